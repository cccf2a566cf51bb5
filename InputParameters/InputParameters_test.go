package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	{ // Defaults are a valid configuration
		assert.NoError(t, NewDefault().Validate())
	}
	{ // YAML overrides merge onto the defaults
		ip := NewDefault()
		data := []byte(`
Title: "Coarse run"
RefinementLevel: 1
NSteps: 10
SaveInterval: 5
`)
		require.NoError(t, ip.Parse(data))
		assert.Equal(t, "Coarse run", ip.Title)
		assert.Equal(t, 1, ip.RefinementLevel)
		assert.Equal(t, 10, ip.NSteps)
		// untouched fields keep their defaults
		assert.Equal(t, 3, ip.FEOrder)
		assert.Equal(t, 2.0, ip.OuterRadius)
	}
	{ // Validation failures
		bad := func(mutate func(*CDRParameters)) error {
			ip := NewDefault()
			mutate(ip)
			return ip.Validate()
		}
		assert.Error(t, bad(func(ip *CDRParameters) { ip.InnerRadius = 3 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.InnerRadius = 0 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.RefinementLevel = -1 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.FEOrder = 0 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.FinalTime = ip.StartTime }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.NSteps = 0 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.SaveInterval = 0 }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.Convection = "x" }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.Convection = "x, y, t" }))
		assert.Error(t, bad(func(ip *CDRParameters) { ip.Forcing = "exp(" }))
	}
	{ // Malformed YAML is rejected
		ip := NewDefault()
		assert.Error(t, ip.Parse([]byte("NSteps: [not a number")))
	}
}
