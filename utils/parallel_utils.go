package utils

import "fmt"

// MailBox carries typed messages between SPMD ranks during a collective
// exchange phase. The calling pattern is:
//
//	for range messages { Post }; Deliver; barrier; Receive
//
// Posting and receiving are rank-local; only Deliver crosses rank boundaries,
// via one buffered channel per receiving rank.
type MailBox[T any] struct {
	NP           int
	MessageChans []chan []T    // one per receiving rank
	PostMsgQs    []map[int][]T // one per posting rank, keyed by target rank
	ReceiveMsgQs [][]T         // one per receiving rank
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan []T, NP),
		PostMsgQs:    make([]map[int][]T, NP),
		ReceiveMsgQs: make([][]T, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan []T, NP) // worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int][]T)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msg T) {
	if targetRank < 0 || targetRank > mb.NP-1 {
		panic(fmt.Sprintf("target rank %d out of bounds", targetRank))
	}
	mb.PostMsgQs[myRank][targetRank] = append(mb.PostMsgQs[myRank][targetRank], msg)
}

func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	for targetRank, msgs := range mb.PostMsgQs[myRank] {
		if len(msgs) == 0 {
			continue
		}
		mb.MessageChans[targetRank] <- msgs
		delete(mb.PostMsgQs[myRank], targetRank)
	}
}

func (mb *MailBox[T]) ReceiveMyMessages(myRank int) (msgs []T) {
	for {
		select {
		case batch := <-mb.MessageChans[myRank]:
			mb.ReceiveMsgQs[myRank] = append(mb.ReceiveMsgQs[myRank], batch...)
		default:
			msgs = mb.ReceiveMsgQs[myRank]
			return
		}
	}
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank] = nil
}

// PartitionMap splits a contiguous index range [0,MaxIndex) into
// ParallelDegree buckets with a maximum imbalance of one item. It is used
// both for the cell partition across ranks and for the owned-DOF ranges.
type PartitionMap struct {
	MaxIndex       int
	ParallelDegree int
	Partitions     [][2]int // begin and end index of each bucket
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucket returns the bucket containing global index kDim plus its range.
func (pm *PartitionMap) GetBucket(kDim int) (bucketNum, min, max int) {
	// initial guess, then walk
	bucketNum = int(float64(pm.ParallelDegree*kDim) / float64(pm.MaxIndex))
	if bucketNum > pm.ParallelDegree-1 {
		bucketNum = pm.ParallelDegree - 1
	}
	for !(pm.Partitions[bucketNum][0] <= kDim && pm.Partitions[bucketNum][1] > kDim) {
		if pm.Partitions[bucketNum][0] > kDim {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			panic(fmt.Sprintf("index %d outside of partitioned range [0,%d)", kDim, pm.MaxIndex))
		}
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	k1, k2 := pm.GetBucketRange(bn)
	kMax = k2 - k1
	return
}

func (pm *PartitionMap) Split1D(bucketNum int) (bucket [2]int) {
	// splits one dimension into ParallelDegree pieces, max imbalance of one
	var (
		Npart            = pm.MaxIndex / pm.ParallelDegree
		startAdd, endAdd int
		remainder        = pm.MaxIndex % pm.ParallelDegree
	)
	if remainder != 0 { // spread the remainder over the first buckets evenly
		if bucketNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = bucketNum
			endAdd = 1
		}
	}
	bucket[0] = bucketNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
