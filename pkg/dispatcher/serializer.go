package dispatcher

import (
	"sync"
	"time"

	"github.com/prismdb/prism/pkg/plannode"
	"github.com/prismdb/prism/pkg/types"
)

// serializedStageInfo is the wire form of one stage plan: the encoded
// fragment root and the encoded custom-properties map. Immutable; shared
// across every per-server request assembly.
type serializedStageInfo struct {
	Root       []byte
	Properties []byte
}

type serializeResult struct {
	info serializedStageInfo
	err  error
}

type serializeTask struct {
	stage  *types.StagePlan
	done   chan serializeResult
	cancel <-chan struct{}
}

// serializerPool is a fixed pool of workers for CPU-bound plan
// serialization. Serializing off the dispatch goroutine hides the cost of
// deep plans behind the longest-serialization critical path.
type serializerPool struct {
	tasks chan serializeTask
	done  chan struct{}
	once  sync.Once
}

func newSerializerPool(size int) *serializerPool {
	p := &serializerPool{
		tasks: make(chan serializeTask),
		done:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *serializerPool) worker() {
	for {
		select {
		case task := <-p.tasks:
			select {
			case <-task.cancel:
				// Waiter gave up; skip the work
				continue
			default:
			}
			task.done <- p.serialize(task.stage)
		case <-p.done:
			return
		}
	}
}

func (p *serializerPool) serialize(stage *types.StagePlan) serializeResult {
	root, err := plannode.Encode(stage.Root)
	if err != nil {
		return serializeResult{err: err}
	}
	props, err := plannode.EncodeProperties(stage.CustomProperties)
	if err != nil {
		return serializeResult{err: err}
	}
	return serializeResult{info: serializedStageInfo{Root: root, Properties: props}}
}

func (p *serializerPool) shutdown() {
	p.once.Do(func() { close(p.done) })
}

// serializeStages serializes every remote stage, waiting for each result in
// stage order bounded by the remaining deadline. Outstanding tasks are
// cancelled on timeout. As a side effect the union of servers across all
// stages is accumulated into the caller-supplied set before any result is
// waited on.
func (p *serializerPool) serializeStages(
	requestID int64,
	stages []*types.StagePlan,
	deadline time.Time,
	servers map[types.ServerInstance]struct{},
) ([]serializedStageInfo, error) {
	for _, stage := range stages {
		for server := range stage.Workers {
			servers[server] = struct{}{}
		}
	}

	cancel := make(chan struct{})
	futures := make([]chan serializeResult, len(stages))
	for i, stage := range stages {
		done := make(chan serializeResult, 1)
		futures[i] = done
		task := serializeTask{stage: stage, done: done, cancel: cancel}
		select {
		case p.tasks <- task:
		case <-time.After(time.Until(deadline)):
			close(cancel)
			return nil, &TimeoutError{RequestID: requestID, Phase: "plan serialization"}
		}
	}

	infos := make([]serializedStageInfo, len(stages))
	for i, future := range futures {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			close(cancel)
			return nil, &TimeoutError{RequestID: requestID, Phase: "plan serialization"}
		}
		timer := time.NewTimer(remaining)
		select {
		case res := <-future:
			timer.Stop()
			if res.err != nil {
				close(cancel)
				return nil, res.err
			}
			infos[i] = res.info
		case <-timer.C:
			close(cancel)
			return nil, &TimeoutError{RequestID: requestID, Phase: "plan serialization"}
		}
	}
	return infos, nil
}
