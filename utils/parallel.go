package utils

import (
	"math"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated group size.
	BeforeParallelGroupWorkFunc func(groupSize int)
	// MemberWorkFunc runs for each work item (member) of a group. A returned error
	// does not stop the other members.
	MemberWorkFunc func(memberNum, workNum int) error
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel parallelizes the given size of work over multiple workers. Work items
// [0, totalSize) are split into contiguous ranges, one per group; the errors of all members
// are combined.
func GroupWorkParallel(totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if totalSize < numGroups {
		numGroups = totalSize
	}
	groupSize := int(math.Floor(float64(totalSize) / float64(numGroups)))
	extra := totalSize % numGroups

	if before != nil {
		before(numGroups)
	}

	var errMu sync.Mutex
	var allErrs error
	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNumCopy := groupNum
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			groupNum := groupNumCopy

			thisGroupSize := groupSize
			thisExtra := 0
			if groupNum == (numGroups - 1) {
				thisExtra = extra
				thisGroupSize += thisExtra
			}
			from := groupSize * groupNum
			to := (groupSize * (groupNum + 1)) + thisExtra
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					if err := memberWork(memberNum, workNum); err != nil {
						errMu.Lock()
						allErrs = multierr.Append(allErrs, err)
						errMu.Unlock()
					}
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		})
	}
	wait.Wait()
	return allErrs
}
