package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// discordMinInterval spaces channel messages so a flapping upstream
	// cannot spam the operator channel.
	discordMinInterval = 30 * time.Second
	discordQueueLimit  = 32
)

// discordNotifier pushes operator alerts (pool outage, recovery, pool
// switch) to a Discord channel. Fully optional; every method is safe on a
// nil receiver so callers never need to gate on configuration.
type discordNotifier struct {
	dg        *discordgo.Session
	channelID string

	mu       sync.Mutex
	queue    []string
	lastSend time.Time
	dropped  int

	done chan struct{}
	wg   sync.WaitGroup
}

func newDiscordNotifier(token, channelID string) (*discordNotifier, error) {
	token = strings.TrimSpace(token)
	channelID = strings.TrimSpace(channelID)
	if token == "" || channelID == "" {
		return nil, nil
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)
	if err := dg.Open(); err != nil {
		return nil, err
	}
	n := &discordNotifier{
		dg:        dg,
		channelID: channelID,
		done:      make(chan struct{}),
	}
	n.wg.Add(1)
	go n.sendLoop()
	logger.Info("discord notifier connected", "channel", channelID)
	return n, nil
}

func (n *discordNotifier) enqueue(msg string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= discordQueueLimit {
		n.dropped++
		return
	}
	n.queue = append(n.queue, msg)
}

// PoolsDown reports that a mapper lost all upstream connectivity.
func (n *discordNotifier) PoolsDown(mapperID int) {
	n.enqueue(fmt.Sprintf(":red_circle: mapper #%d has no active pools; shares are being rejected", mapperID))
}

// PoolRecovered reports that a mapper regained an upstream after an outage.
func (n *discordNotifier) PoolRecovered(mapperID int, pool string, downFor time.Duration) {
	n.enqueue(fmt.Sprintf(":green_circle: mapper #%d is back online via %s (down %s)",
		mapperID, pool, humanShortDuration(downFor)))
}

// PoolSwitched reports a failover or reload switching the active upstream.
func (n *discordNotifier) PoolSwitched(mapperID int, pool string) {
	n.enqueue(fmt.Sprintf(":arrows_counterclockwise: mapper #%d switched to %s", mapperID, pool))
}

func (n *discordNotifier) sendLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.flushOne()
		case <-n.done:
			return
		}
	}
}

func (n *discordNotifier) flushOne() {
	n.mu.Lock()
	if len(n.queue) == 0 || time.Since(n.lastSend) < discordMinInterval {
		n.mu.Unlock()
		return
	}
	msg := n.queue[0]
	n.queue = n.queue[1:]
	if n.dropped > 0 {
		msg += fmt.Sprintf(" (%d earlier alerts dropped)", n.dropped)
		n.dropped = 0
	}
	n.lastSend = time.Now()
	n.mu.Unlock()

	if _, err := n.dg.ChannelMessageSend(n.channelID, msg); err != nil {
		logger.Error("discord send", "error", err)
	}
}

func (n *discordNotifier) Close() {
	if n == nil {
		return
	}
	close(n.done)
	n.wg.Wait()
	if err := n.dg.Close(); err != nil {
		logger.Error("discord close", "error", err)
	}
}
