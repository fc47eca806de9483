package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

const (
	msgUnparseable = "❌ Could not parse the output correctly. Try rephrasing."
	msgCreated     = "✅ Event created successfully: %s"
	msgFailed      = "❌ Failed to create event: %v"
	msgUnexpected  = "❌ Unexpected Error: %v"
)

// Outcome is everything one scheduling request produced. Message is always
// set and is what the user sees.
type Outcome struct {
	Reply   string
	Request *EventRequest
	Event   *Event
	Message string
}

type Assistant struct {
	model           ModelClient
	provider        CalendarProvider
	db              *sql.DB
	calendarID      string
	providerName    string
	loc             *time.Location
	defaultDuration time.Duration
	now             func() time.Time
}

func NewAssistant(config *Config, model ModelClient, provider CalendarProvider, db *sql.DB) (*Assistant, error) {
	loc, err := config.Location()
	if err != nil {
		return nil, err
	}
	duration, err := config.EventDuration()
	if err != nil {
		return nil, err
	}
	return &Assistant{
		model:           model,
		provider:        provider,
		db:              db,
		calendarID:      config.CalendarID,
		providerName:    config.Provider,
		loc:             loc,
		defaultDuration: duration,
		now:             time.Now,
	}, nil
}

// Schedule turns one free-text request into a calendar event. The returned
// error mirrors the failure already described in Outcome.Message.
func (a *Assistant) Schedule(ctx context.Context, text string) (*Outcome, error) {
	outcome := &Outcome{}
	text = strings.TrimSpace(text)
	if text == "" {
		outcome.Message = msgUnparseable
		return outcome, errUnparseable
	}

	printVerbosely(1, "🧠 Parsing your input...\n")
	reply, err := a.model.Complete(ctx, BuildPrompt(text, a.now().In(a.loc)))
	if err != nil {
		outcome.Message = fmt.Sprintf(msgUnexpected, err)
		return outcome, err
	}
	outcome.Reply = reply
	printVerbosely(2, "%s\n", reply)

	request, err := ExtractEvent(reply, a.loc, a.defaultDuration)
	if err != nil {
		if errors.Is(err, errEndBeforeStart) {
			outcome.Message = fmt.Sprintf(msgFailed, err)
		} else {
			outcome.Message = msgUnparseable
		}
		return outcome, err
	}
	outcome.Request = request

	created, err := a.provider.AddEvent(ctx, a.calendarID, &Event{
		Summary:   request.Title,
		Start:     request.Start,
		End:       request.End,
		Attendees: request.Attendees,
	})
	if err != nil {
		outcome.Message = fmt.Sprintf(msgFailed, err)
		return outcome, err
	}
	outcome.Event = created
	outcome.Message = fmt.Sprintf(msgCreated, created.Link)

	if a.db != nil {
		err := recordEvent(a.db, EventRecord{
			EventID:    created.ID,
			CalendarID: a.calendarID,
			Provider:   a.providerName,
			Title:      request.Title,
			Start:      request.Start,
			End:        request.End,
			Link:       created.Link,
			Request:    text,
			CreatedAt:  a.now(),
		})
		if err != nil {
			log.Printf("Warning: failed to record event %s: %v", created.ID, err)
		}
	}

	return outcome, nil
}

// DailySummary lists the events of the next 24 hours.
func (a *Assistant) DailySummary(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := a.now().In(a.loc)
	events, err := a.provider.ListEvents(ctx, a.calendarID, now, now.Add(24*time.Hour))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "You have no events today.", nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	output := []string{"Today's events:"}
	for _, e := range events {
		output = append(output, fmt.Sprintf("• %s at %s", e.Summary, e.Start.In(a.loc).Format("03:04 PM")))
	}
	return strings.Join(output, "\n"), nil
}

// setupAssistant wires config, store, calendar provider and model together.
// The returned cleanup closes the store.
func setupAssistant(ctx context.Context, config *Config) (*Assistant, func(), error) {
	db, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("error opening database: %w", err)
	}
	cleanup := func() { db.Close() }

	model, err := NewOpenAIModel(config.LLM)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	factory := NewCalendarFactory(ctx, config, db)
	provider, err := factory.CreateCalendarProvider()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	assistant, err := newCheckedAssistant(factory, config, model, provider, db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return assistant, cleanup, nil
}

// newCheckedAssistant makes sure the configured calendar is reachable before
// the first request, so a wrong calendar_id shows up at startup.
func newCheckedAssistant(factory *CalendarFactory, config *Config, model ModelClient, provider CalendarProvider, db *sql.DB) (*Assistant, error) {
	printVerbosely(1, "🔎 Checking access to calendar %s...\n", config.CalendarID)
	if err := factory.ValidateCalendarAccess(provider, config.CalendarID); err != nil {
		return nil, err
	}
	return NewAssistant(config, model, provider, db)
}
