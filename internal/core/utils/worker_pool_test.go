package utils_test

import (
	"fmt"
	"sentiment-backend/internal/core/utils"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInpool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	queue := make(chan int, 10)

	for i := 0; i < 10; i++ {
		queue <- i
	}

	close(queue)

	output := make(chan utils.CompletedTask[string], 10)

	utils.RunInPool(worker, queue, output, 5)

	success, errors := 0, 0
	for result := range output {
		if result.Error != nil {
			errors++
		} else {
			success++
		}
	}

	if success != 8 || errors != 2 {
		t.Fatal("invalid results")
	}
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)
	output := make(chan utils.CompletedTask[int])

	utils.RunInPool(func(i int) (int, error) { return i, nil }, queue, output, 4)

	_, ok := <-output
	assert.False(t, ok)
}

func TestMapOrderedKeepsInputOrder(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}
	worker := func(i int) (int, error) {
		time.Sleep(time.Duration((50-i)%7) * time.Millisecond)
		return i * i, nil
	}

	for _, workers := range []int{1, 4, 100} {
		out, err := utils.MapOrdered(inputs, worker, workers)
		require.NoError(t, err)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}

	out, err := utils.MapOrdered([]int{}, worker, 4)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMapOrderedReturnsError(t *testing.T) {
	_, err := utils.MapOrdered([]int{1, 2, 3, 4}, func(i int) (int, error) {
		if i == 3 {
			return 0, fmt.Errorf("bad input %d", i)
		}
		return i, nil
	}, 3)
	assert.ErrorContains(t, err, "bad input 3")
}
