package utils

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor is the default number of workers used when a caller does not pin one. Tests can
// pass an explicit worker count of 1 to run single-threaded.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// cancelCheckInterval is how many work items a group processes between context checks.
const cancelCheckInterval = 256

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated number of groups.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits [0, totalSize) into at most `workers` contiguous ranges and runs each
// range on its own goroutine. A worker count <= 0 uses ParallelFactor. Ranges are assigned
// statically, so a work item is always handled by the same group for a given worker count.
// A panic inside a group is returned as an error.
func GroupWorkParallel(
	ctx context.Context,
	workers, totalSize int,
	before BeforeParallelGroupWorkFunc,
	groupWork GroupWorkFunc,
) error {
	if workers <= 0 {
		workers = ParallelFactor
	}
	numGroups := min(workers, totalSize)
	if before != nil {
		before(numGroups)
	}
	if numGroups <= 0 {
		return ctx.Err()
	}

	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	g, gctx := errgroup.WithContext(ctx)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		// the first `extra` groups take one more item each
		thisGroupSize := groupSize
		if groupNum < extra {
			thisGroupSize++
		}
		from := groupNum*groupSize + min(groupNum, extra)
		to := from + thisGroupSize

		g.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = errors.Errorf("got panic running group %d in parallel: %v", groupNum, thePanic)
				}
			}()
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				for workNum := from; workNum < to; workNum++ {
					if (workNum-from)%cancelCheckInterval == 0 {
						if err := gctx.Err(); err != nil {
							return err
						}
					}
					memberWork(workNum-from, workNum)
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
			return nil
		})
	}
	return g.Wait()
}
