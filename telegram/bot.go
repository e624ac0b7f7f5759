package telegram

import (
	"evgateway/internal"
	"evgateway/models"
	"evgateway/session"
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const recentEvents = 5

type StatsProvider interface {
	Stats() session.Stats
}

// TgBot implements EventHandler
type TgBot struct {
	api      *tgbotapi.BotAPI
	database internal.Database
	stats    StatsProvider
	event    chan MessageContent
	send     chan MessageContent

	mu            sync.Mutex
	subscriptions map[int]models.UserSubscription
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot := newBot()
	tgBot.api = api
	return tgBot, nil
}

func newBot() *TgBot {
	return &TgBot{
		subscriptions: make(map[int]models.UserSubscription),
		event:         make(chan MessageContent, 100),
		send:          make(chan MessageContent, 100),
	}
}

// SetDatabase attach database service
func (b *TgBot) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *TgBot) SetStatsProvider(stats StatsProvider) {
	b.stats = stats
}

func (b *TgBot) Start() {
	b.loadSubscriptions()
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

func (b *TgBot) loadSubscriptions() {
	if b.database == nil {
		return
	}
	subscriptions, err := b.database.GetSubscriptions()
	if err != nil {
		log.Printf("bot: error getting subscriptions: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subscription := range subscriptions {
		b.subscriptions[subscription.UserID] = subscription
	}
}

// Start listening for updates
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		log.Printf("bot: error getting updates: %v", err)
		return
	}
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		chatId := update.Message.Chat.ID
		switch update.Message.Command() {
		case "start":
			b.send <- MessageContent{ChatID: chatId, Text: b.subscribe(update.Message.From.ID, chatId, update.Message.From.UserName)}
		case "stop":
			b.send <- MessageContent{ChatID: chatId, Text: b.unsubscribe(update.Message.From.ID)}
		case "status":
			b.send <- MessageContent{ChatID: chatId, Text: b.composeStatusMessage()}
		}
	}
}

func (b *TgBot) subscribe(userId int, chatId int64, userName string) string {
	subscription := models.UserSubscription{
		UserID:           userId,
		ChatID:           chatId,
		User:             userName,
		SubscriptionType: "status",
	}
	b.mu.Lock()
	b.subscriptions[userId] = subscription
	b.mu.Unlock()
	if b.database != nil {
		if err := b.database.AddSubscription(&subscription); err != nil {
			log.Printf("bot: error adding subscription: %v", err)
			return fmt.Sprintf("Error adding subscription:\n `%v`", sanitize(err.Error()))
		}
	}
	return fmt.Sprintf("Hello *%v*, you are now subscribed to updates", sanitize(userName))
}

func (b *TgBot) unsubscribe(userId int) string {
	b.mu.Lock()
	delete(b.subscriptions, userId)
	b.mu.Unlock()
	if b.database != nil {
		if err := b.database.DeleteSubscription(&models.UserSubscription{UserID: userId}); err != nil {
			log.Printf("bot: error deleting subscription: %v", err)
		}
	}
	return "Your subscription has been removed"
}

func (b *TgBot) recipients() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.subscriptions))
	for _, subscription := range b.subscriptions {
		if subscription.ChatID != 0 {
			ids = append(ids, subscription.ChatID)
		} else {
			ids = append(ids, int64(subscription.UserID))
		}
	}
	return ids
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for event := range b.event {
		for _, id := range b.recipients() {
			b.sendMessage(id, event.Text)
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for event := range b.send {
		b.sendMessage(event.ChatID, event.Text)
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// the text may have failed markdown parsing, report the error in plain text
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		_, err = b.api.Send(msg)
		if err != nil {
			log.Printf("bot: error sending message: %v", err)
		}
	}
}

// OnEvent forwards link state changes and charging commands to subscribers.
func (b *TgBot) OnEvent(event *internal.EventMessage) {
	text, ok := formatEvent(event)
	if !ok {
		return
	}
	select {
	case b.event <- MessageContent{Text: text}:
	default:
		log.Printf("bot: event queue full, dropping %s", event.Type)
	}
}

func formatEvent(event *internal.EventMessage) (string, bool) {
	switch event.Type {
	case internal.EventLinkState:
		return fmt.Sprintf("*%v*: gateway link `%v`\n", sanitize(event.ChargePointId), event.Status), true
	case internal.EventChargePoint:
		if event.ConnectorId == 0 {
			return "", false
		}
		msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
		if event.Info != "" {
			msg += fmt.Sprintf("%v\n", sanitize(event.Info))
		}
		return msg, true
	case internal.EventChargingStart:
		msg := fmt.Sprintf("*%v*: Connector %v: `%v`\n", sanitize(event.ChargePointId), event.ConnectorId, event.Status)
		msg += fmt.Sprintf("Transaction ID: %v START\n", event.TransactionId)
		msg += fmt.Sprintf("User: %v\n", sanitize(event.UserId))
		return msg, true
	case internal.EventChargingStop:
		msg := fmt.Sprintf("*%v*: `%v`\n", sanitize(event.ChargePointId), event.Status)
		msg += fmt.Sprintf("Transaction ID: %v STOP\n", event.TransactionId)
		msg += fmt.Sprintf("User: %v\n", sanitize(event.UserId))
		if event.Info != "" {
			msg += fmt.Sprintf("Reason: %v\n", sanitize(event.Info))
		}
		return msg, true
	}
	return "", false
}

// compose status message
func (b *TgBot) composeStatusMessage() string {
	msg := "Status info:\n\n"
	if b.stats != nil {
		stats := b.stats.Stats()
		msg += fmt.Sprintf("Connections: `%v`\n", stats.TotalConnections)
		msg += fmt.Sprintf("Authenticated: `%v`\n", stats.AuthenticatedConnections)
		msg += fmt.Sprintf("Users: `%v`\n", stats.TotalUsers)
		msg += fmt.Sprintf("Gateway links: `%v`\n\n", stats.GatewayConnections)
	}
	if b.database != nil {
		events, err := b.database.ReadEvents(recentEvents)
		if err != nil {
			log.Printf("bot: error reading events: %v", err)
			msg += fmt.Sprintf("Error reading events:\n `%v`\n", sanitize(err.Error()))
		} else {
			for _, e := range events {
				msg += fmt.Sprintf("`%v` %v %v\n", e.Type, sanitize(e.ChargePointId), sanitize(e.Time.Format("2006-01-02 15:04:05")))
			}
			msg += "\n"
		}
	}
	b.mu.Lock()
	msg += fmt.Sprintf("Active subscriptions: %v", len(b.subscriptions))
	b.mu.Unlock()
	return msg
}

func sanitize(input string) string {
	reservedChars := "\\`*_{}[]()#+-.!|>~=<"
	var sanitized strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized.WriteRune('\\')
		}
		sanitized.WriteRune(char)
	}
	return sanitized.String()
}
