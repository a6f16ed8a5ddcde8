// Package async runs a fixed set of named fetches on a bounded worker pool.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMissingResult is returned by Value when a task did not report back,
// usually because the context was cancelled first.
var ErrMissingResult = errors.New("task produced no result")

type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool bounds how many tasks run at once. A Pool may be reused; every Execute call
// gets its own channels.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

func run(task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Data = nil
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute()
	return result
}

func worker(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			select {
			case results <- run(task):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Execute runs tasks and returns their results keyed by task name. When ctx is
// cancelled it returns whatever finished so far.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	results := make(map[string]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	taskCh := make(chan Task)
	resultCh := make(chan Result)

	workers := p.workerCount
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, taskCh, resultCh, &wg)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-resultCh:
			results[result.Name] = result
		case <-ctx.Done():
			return results
		}
	}

	wg.Wait()
	return results
}

// Value extracts the typed data of a named result.
func Value[T any](results map[string]Result, name string) (T, error) {
	var zero T
	result, ok := results[name]
	if !ok {
		return zero, fmt.Errorf("%s: %w", name, ErrMissingResult)
	}
	if result.Err != nil {
		return zero, result.Err
	}
	data, ok := result.Data.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", name, result.Data)
	}
	return data, nil
}
