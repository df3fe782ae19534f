package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(1, min(len(queue), maxWorkers))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(next)
					if err != nil {
						completed <- CompletedTask[Out]{Error: err}
					} else {
						completed <- CompletedTask[Out]{Result: res, Error: nil}
					}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

type indexed[T any] struct {
	index int
	value T
}

// MapOrdered applies worker to every input on up to maxWorkers goroutines and
// returns the results in input order. The first error is returned, after all
// workers have drained.
func MapOrdered[In any, Out any](inputs []In, worker func(In) (Out, error), maxWorkers int) ([]Out, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if maxWorkers <= 1 {
		out := make([]Out, len(inputs))
		for i, in := range inputs {
			res, err := worker(in)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	}

	queue := make(chan indexed[In], len(inputs))
	for i, in := range inputs {
		queue <- indexed[In]{index: i, value: in}
	}
	close(queue)

	completed := make(chan CompletedTask[indexed[Out]], len(inputs))
	RunInPool(func(task indexed[In]) (indexed[Out], error) {
		res, err := worker(task.value)
		return indexed[Out]{index: task.index, value: res}, err
	}, queue, completed, maxWorkers)

	out := make([]Out, len(inputs))
	var firstErr error
	for result := range completed {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = result.Error
			}
			continue
		}
		out[result.Result.index] = result.Result.value
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
