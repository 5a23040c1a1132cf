package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSpeakers(); err != nil {
		return err
	}
	if err := c.validateGPULock(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSpeakers() error {
	if c.Speakers.MatchThreshold < 0 || c.Speakers.MatchThreshold > 1 {
		return errors.New("speakers.match_threshold must be between 0 and 1")
	}
	if c.Speakers.MinTurnSeconds < 0 {
		return errors.New("speakers.min_turn_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateGPULock() error {
	if c.GPULock.LeaseSeconds <= 0 {
		return errors.New("gpu_lock.lease_seconds must be positive")
	}
	if c.GPULock.WaitSeconds <= 0 {
		return errors.New("gpu_lock.wait_seconds must be positive")
	}
	if c.GPULock.PollIntervalMS <= 0 {
		return errors.New("gpu_lock.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
