package supervisor

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestJoinTasksWaitsForAllWithinBudget(t *testing.T) {
	s := &Supervisor{log: logrus.New()}

	var order []string
	tasks := make([]task, 3)
	for i, name := range []string{"a", "b", "c"} {
		done := make(chan struct{})
		tasks[i] = task{name: name, done: done}
		go func(n string, d chan struct{}) {
			time.Sleep(10 * time.Millisecond)
			order = append(order, n)
			close(d)
		}(name, done)
	}

	start := time.Now()
	if err := joinTasksWithBudget(s, tasks, time.Second); err == nil {
		t.Fatal("joinTasksWithBudget should classify completion as lberr.Shutdown, not nil")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("joinTasksWithBudget took far longer than the tasks needed to finish")
	}
	for _, tk := range tasks {
		select {
		case <-tk.done:
		default:
			t.Fatalf("task %s had not finished when joinTasksWithBudget returned", tk.name)
		}
	}
}

func TestJoinTasksRespectsBudgetWhenTaskHangs(t *testing.T) {
	s := &Supervisor{log: logrus.New()}

	hang := make(chan struct{}) // never closed
	tasks := []task{{name: "hung", done: hang}}

	start := time.Now()
	_ = joinTasksWithBudget(s, tasks, 50*time.Millisecond)
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("joinTasksWithBudget elapsed = %v, want close to the 50ms budget", elapsed)
	}
}
