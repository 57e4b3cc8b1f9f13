package agentloop

import "time"

// Configuration bounds a single run: how many steps it may take, how many
// consecutive failed steps it tolerates, how long it pauses between
// actions within a step, and how many actions a single step may fan out
// to.
type Configuration struct {
	MaxSteps              int
	MaxConsecutiveFailures int
	WaitBetweenActions    time.Duration
	MaxActionsPerStep     int
}

// DefaultConfiguration matches the values named in the configuration
// surface: 100 steps, 3 consecutive failures, 200ms between actions, 10
// actions per step.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxSteps:              100,
		MaxConsecutiveFailures: 3,
		WaitBetweenActions:    200 * time.Millisecond,
		MaxActionsPerStep:     10,
	}
}

func (c Configuration) withDefaults() Configuration {
	d := DefaultConfiguration()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.WaitBetweenActions <= 0 {
		c.WaitBetweenActions = d.WaitBetweenActions
	}
	if c.MaxActionsPerStep <= 0 {
		c.MaxActionsPerStep = d.MaxActionsPerStep
	}
	return c
}
