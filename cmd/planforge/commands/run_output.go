package commands

import (
	"fmt"

	"github.com/marcus/planforge/internal/driver"
)

// printEvent renders driver events as console progress lines.
func printEvent(ev driver.Event) {
	switch ev.Type {
	case driver.EventRunStart:
		fmt.Printf("==> running plan %s\n", ev.PlanID)

	case driver.EventPhaseStart:
		fmt.Printf("--> %s\n", ev.Phase)

	case driver.EventPhaseEnd:
		fmt.Printf("    %s done\n", ev.Phase)

	case driver.EventLoopIteration:
		fmt.Printf("    %s iteration %d/%d: %s\n", ev.Phase, ev.Iteration, ev.MaxIter, ev.Message)

	case driver.EventLoopBack:
		fmt.Printf("    %s findings remain, looping back to execute\n", ev.Phase)

	case driver.EventTaskStart:
		fmt.Printf("    task %d: %s\n", ev.TaskNumber, ev.TaskTitle)

	case driver.EventTaskEnd:
		if ev.Error != "" {
			fmt.Printf("    task %d failed: %s\n", ev.TaskNumber, ev.Error)
		} else {
			fmt.Printf("    task %d done\n", ev.TaskNumber)
		}

	case driver.EventDecision:
		fmt.Printf("    waiting on decision: %s\n", ev.Message)

	case driver.EventLog:
		if ev.Level == "warn" || ev.Level == "error" {
			fmt.Printf("    [%s] %s\n", ev.Level, ev.Message)
		}
	}
}
