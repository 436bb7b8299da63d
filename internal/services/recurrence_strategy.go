// Package services holds the engine's orchestration: the consistency
// coordinator, budget accumulation, the read path and recurring
// materialization.
//
// This file implements the Strategy Pattern for recurring transactions.
// Each frequency has a scheduler that computes the occurrence following a
// given one.
package services

import (
	"fmt"
	"sync"
	"time"

	"saldo/internal/core"
)

// OccurrenceScheduler computes the next occurrence of a recurring record.
// anchor is the date of the template record; its day of month (and month,
// for yearly schedules) is kept across short months.
type OccurrenceScheduler interface {
	Next(prev, anchor core.Date) core.Date
}

// DailyScheduler repeats every day.
type DailyScheduler struct{}

func (DailyScheduler) Next(prev, _ core.Date) core.Date {
	return core.Date{Time: prev.AddDate(0, 0, 1)}
}

// WeeklyScheduler repeats every seven days.
type WeeklyScheduler struct{}

func (WeeklyScheduler) Next(prev, _ core.Date) core.Date {
	return core.Date{Time: prev.AddDate(0, 0, 7)}
}

// MonthlyScheduler repeats on the anchor's day of month, clamped to the
// last day of shorter months.
type MonthlyScheduler struct{}

func (MonthlyScheduler) Next(prev, anchor core.Date) core.Date {
	year, month := prev.Year(), prev.Month()+1
	if month > 12 {
		year, month = year+1, 1
	}
	return clampedDate(year, month, anchor.Day())
}

// YearlyScheduler repeats on the anchor's month and day; 29 February falls
// back to 28 February outside leap years.
type YearlyScheduler struct{}

func (YearlyScheduler) Next(prev, anchor core.Date) core.Date {
	return clampedDate(prev.Year()+1, anchor.Month(), anchor.Day())
}

func clampedDate(year, month, day int) core.Date {
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return core.NewDate(year, month, day)
}

var (
	schedulersMu sync.RWMutex
	schedulers   = map[core.Frequency]OccurrenceScheduler{
		core.Daily:   DailyScheduler{},
		core.Weekly:  WeeklyScheduler{},
		core.Monthly: MonthlyScheduler{},
		core.Yearly:  YearlyScheduler{},
	}
)

// GetScheduler returns the scheduler registered for frequency.
func GetScheduler(frequency core.Frequency) (OccurrenceScheduler, error) {
	schedulersMu.RLock()
	defer schedulersMu.RUnlock()
	s, ok := schedulers[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", frequency)
	}
	return s, nil
}

// RegisterScheduler installs or replaces the scheduler for frequency.
func RegisterScheduler(frequency core.Frequency, s OccurrenceScheduler) {
	schedulersMu.Lock()
	defer schedulersMu.Unlock()
	schedulers[frequency] = s
}

// NextOccurrence returns the occurrence after prev for a record anchored at
// anchor.
func NextOccurrence(frequency core.Frequency, prev, anchor core.Date) (core.Date, error) {
	s, err := GetScheduler(frequency)
	if err != nil {
		return core.Date{}, err
	}
	return s.Next(prev, anchor), nil
}
