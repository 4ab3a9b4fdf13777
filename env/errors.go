package env

import "errors"

var (
	// ErrConfiguration reports invalid construction parameters.
	ErrConfiguration = errors.New("invalid environment configuration")
	// ErrInvalidAction reports a move outside the four directions.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNotReset reports use of the environment before the first Reset.
	ErrNotReset = errors.New("environment used before reset")
	// ErrEpisodeOver reports a Step after the episode terminated.
	ErrEpisodeOver = errors.New("episode is over, reset to start a new one")
)
