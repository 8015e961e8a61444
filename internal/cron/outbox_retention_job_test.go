package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

func TestOutboxRetentionJobDeletesOnlyOldPublishedRows(t *testing.T) {
	client, conn := dbtest.Client(t)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-5 * 24 * time.Hour)

	seedOutboxRow(t, conn, &old)
	seedOutboxRow(t, conn, &recent)
	seedOutboxRow(t, conn, nil)

	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         client,
		Repository: outbox.NewRepository(conn),
	})
	require.NoError(t, err)
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         passthroughTx{},
		Repository: failingRetentionRepo{},
	})
	require.NoError(t, err)
	require.Error(t, jobIface.Run(context.Background()))
}

func seedOutboxRow(t *testing.T, conn *gorm.DB, publishedAt *time.Time) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"version": 1})
	require.NoError(t, err)
	require.NoError(t, conn.Create(&models.OutboxEvent{
		EventType:     enums.EventWalletTransactionRecorded,
		AggregateType: enums.AggregateVendorWallet,
		AggregateID:   uuid.New(),
		Payload:       payload,
		PublishedAt:   publishedAt,
	}).Error)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type failingRetentionRepo struct{}

func (failingRetentionRepo) DeletePublishedBefore(*gorm.DB, time.Time) (int64, error) {
	return 0, errors.New("boom")
}
