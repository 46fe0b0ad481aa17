package toolrunner

// This file contains helpers for working with Runner in tests.

import (
	"context"
	"sync"
)

// CommandCollector is a Runner that records every command instead of
// running it. Safe for concurrent use as long as the delegate is.
type CommandCollector struct {
	mutex    sync.RWMutex
	commands []Command
	delegate func(context.Context, Command) (*Result, error)
}

// Compile-time interface check.
var _ Runner = (*CommandCollector)(nil)

// Commands returns a copy of the commands seen so far.
func (c *CommandCollector) Commands() []Command {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Command, len(c.commands))
	copy(result, c.commands)

	return result
}

// SetDelegateRun sets the function answering Run. Without one, Run returns
// an empty successful Result.
func (c *CommandCollector) SetDelegateRun(delegate func(context.Context, Command) (*Result, error)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.delegate = delegate
}

// Run records cmd and delegates to the function set by SetDelegateRun.
func (c *CommandCollector) Run(ctx context.Context, cmd Command) (*Result, error) {
	c.mutex.Lock()
	c.commands = append(c.commands, cmd)
	delegate := c.delegate
	c.mutex.Unlock()

	if delegate == nil {
		return &Result{}, nil
	}

	return delegate(ctx, cmd)
}
