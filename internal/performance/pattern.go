package performance

import "math"

// stepCohorts is the number of cohorts used by PatternStep.
const stepCohorts = 4

// StartDelay returns how many milliseconds after the run start the virtual
// user at userIndex (0-based) should begin.
//
// The result always lies in [0, rampUpSeconds*1000]. With no ramp-up window
// every user starts immediately.
func StartDelay(userIndex, totalUsers, rampUpSeconds int, pattern LoadPattern) int {
	if rampUpSeconds <= 0 || totalUsers <= 0 || userIndex <= 0 {
		return 0
	}

	window := float64(rampUpSeconds) * 1000
	fraction := float64(userIndex) / float64(totalUsers)

	var delay float64
	switch pattern {
	case PatternRampUp:
		delay = fraction * fraction * window
	case PatternStep:
		perStep := int(math.Ceil(float64(totalUsers) / stepCohorts))
		step := userIndex / perStep
		delay = float64(step) / stepCohorts * window
	default:
		delay = fraction * window
	}

	if delay < 0 {
		return 0
	}
	if delay > window {
		return int(window)
	}
	return int(delay)
}

// StartDelays returns the start offsets for every user of a run.
func StartDelays(totalUsers, rampUpSeconds int, pattern LoadPattern) []int {
	if totalUsers <= 0 {
		return nil
	}
	delays := make([]int, totalUsers)
	for i := range delays {
		delays[i] = StartDelay(i, totalUsers, rampUpSeconds, pattern)
	}
	return delays
}
