package telegram

import (
	"errors"
	"sync"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

// Client is a lazily-initialized handle to the underlying bot. The bot is
// constructed at most once per process, on first use, under double-checked
// locking so concurrent first calls never build two clients or register
// handlers twice.
type Client struct {
	mu    sync.Mutex
	bot   atomic.Pointer[tele.Bot]
	build func() (*tele.Bot, error)
}

// NewClient wraps a build function that constructs and wires the bot.
func NewClient(build func() (*tele.Bot, error)) *Client {
	return &Client{build: build}
}

// Bot returns the shared bot instance, constructing it on first call.
func (c *Client) Bot() (*tele.Bot, error) {
	if b := c.bot.Load(); b != nil {
		return b, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.bot.Load(); b != nil {
		return b, nil
	}
	if c.build == nil {
		return nil, errors.New("telegram: client build function not set")
	}
	b, err := c.build()
	if err != nil {
		return nil, err
	}
	c.bot.Store(b)
	return b, nil
}

// Built reports whether the bot has already been constructed.
func (c *Client) Built() bool {
	return c.bot.Load() != nil
}
