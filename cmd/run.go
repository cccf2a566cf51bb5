/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io/ioutil"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/pdelab/cdr2d/InputParameters"
	"github.com/pdelab/cdr2d/model_problems/CDR2D"
)

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Transient convection-diffusion-reaction solve on an annulus",
	Long:  `Transient convection-diffusion-reaction solve on an annulus, with checkpoint output in VTU/PVTU format`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		ipFile, _ := cmd.Flags().GetString("inputParametersFile")
		np, _ := cmd.Flags().GetInt("nprocs")
		outDir, _ := cmd.Flags().GetString("outputDir")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ip := processInput(ipFile)
		if np < 1 {
			np = runtime.NumCPU()
		}
		if len(outDir) != 0 {
			ip.OutputDir = outDir
		}
		if quiet {
			ip.Verbose = false
		}
		if ip.Verbose {
			ip.Print()
		}
		if err = CDR2D.Run(ip, np); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}

func processInput(ipFile string) (ip *InputParameters.CDRParameters) {
	ip = InputParameters.NewDefault()
	if len(ipFile) == 0 {
		return
	}
	data, err := ioutil.ReadFile(ipFile)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		exampleFile := `
########################################
Title: "Rotating Flow"
InnerRadius: 1.
OuterRadius: 2.
RefinementLevel: 2
FEOrder: 3
Diffusion: 1.e-3
Convection: "-y, x"
Reaction: 1.e-4
Forcing: "exp(-2*t) * exp(-40*pow(x-1.5, 6)) * exp(-40*pow(y, 6))"
StartTime: 0.
FinalTime: 2.
NSteps: 200
SaveInterval: 1
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		os.Exit(1)
	}
	if err = ip.Parse(data); err != nil {
		fmt.Printf("error: %s\n", err.Error())
		os.Exit(1)
	}
	return
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("inputParametersFile", "I", "", "YAML file with run parameters like:\n\t- Diffusion\n\t- Convection\n\t- NSteps")
	RunCmd.Flags().IntP("nprocs", "p", 1, "number of parallel ranks; 0 uses all CPUs")
	RunCmd.Flags().StringP("outputDir", "o", "", "directory receiving checkpoint files")
	RunCmd.Flags().BoolP("quiet", "q", false, "suppress per-step progress output")
}
