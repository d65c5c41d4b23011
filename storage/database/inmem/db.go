// Package inmemdb implements the repositories in memory, for tests and local runs.
package inmemdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/conversation"
	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/notification"
	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/questionnaire"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
)

// DB holds every table behind a single lock, so that deletes can cascade.
type DB struct {
	sync.RWMutex
	txMu sync.Mutex // serializes InTx
	tables
}

type tables struct {
	orgs           map[string]*organization.Organization
	users          map[string]*user.User
	courses        map[string]*course.Course
	enrollments    map[string]*course.Enrollment
	sessions       map[string]*session.Session
	instances      map[string]*session.Instance
	questionnaires map[string]*questionnaire.Questionnaire
	responses      map[string]*questionnaire.Response
	conversations  map[string]*conversation.Conversation
	messages       map[string]*conversation.Message
	lastRead       map[string]map[string]time.Time // {conversationID: {userID: at}}
	notifications  map[string]*notification.Notification
	workflows      map[string]*workflow.Workflow
	deliveries     map[string]*workflow.Delivery
}

var _ core.Transactor = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{
		tables: tables{
			orgs:           make(map[string]*organization.Organization),
			users:          make(map[string]*user.User),
			courses:        make(map[string]*course.Course),
			enrollments:    make(map[string]*course.Enrollment),
			sessions:       make(map[string]*session.Session),
			instances:      make(map[string]*session.Instance),
			questionnaires: make(map[string]*questionnaire.Questionnaire),
			responses:      make(map[string]*questionnaire.Response),
			conversations:  make(map[string]*conversation.Conversation),
			messages:       make(map[string]*conversation.Message),
			lastRead:       make(map[string]map[string]time.Time),
			notifications:  make(map[string]*notification.Notification),
			workflows:      make(map[string]*workflow.Workflow),
			deliveries:     make(map[string]*workflow.Delivery),
		},
	}
}

// InTx runs fn and restores every table to its previous state if fn fails.
// Writes made outside of fn while it runs are lost on rollback as well.
func (db *DB) InTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.RLock()
	snap := db.tables.clone()
	db.RUnlock()

	if err := fn(nil); err != nil {
		db.Lock()
		db.tables = snap
		db.Unlock()
		return err
	}
	return nil
}

// clone copies every row. Repositories replace or mutate rows through their pointers,
// so the copies must not share them.
func (t *tables) clone() tables {
	lastRead := make(map[string]map[string]time.Time, len(t.lastRead))
	for convID, reads := range t.lastRead {
		c := make(map[string]time.Time, len(reads))
		for userID, at := range reads {
			c[userID] = at
		}
		lastRead[convID] = c
	}
	return tables{
		orgs:           cloneTable(t.orgs),
		users:          cloneTable(t.users),
		courses:        cloneTable(t.courses),
		enrollments:    cloneTable(t.enrollments),
		sessions:       cloneTable(t.sessions),
		instances:      cloneTable(t.instances),
		questionnaires: cloneTable(t.questionnaires),
		responses:      cloneTable(t.responses),
		conversations:  cloneTable(t.conversations),
		messages:       cloneTable(t.messages),
		lastRead:       lastRead,
		notifications:  cloneTable(t.notifications),
		workflows:      cloneTable(t.workflows),
		deliveries:     cloneTable(t.deliveries),
	}
}

func cloneTable[T any](m map[string]*T) map[string]*T {
	c := make(map[string]*T, len(m))
	for id, row := range m {
		r := *row
		c[id] = &r
	}
	return c
}

func newID() string { return uuid.New().String() }

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append([]string(nil), ss...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// orderBy sorts items by ordering, falling back to def. cmp compares two items on a field.
func orderBy[T any](items []T, ordering []core.DBOrdering, def core.DBOrdering, cmp func(a, b T, field string) int) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{def}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			c := cmp(items[i], items[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
