package app

import (
	"testing"

	"cell-tracker-go/internal/config"
	"cell-tracker-go/internal/queue"
	"cell-tracker-go/internal/testutil"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("loud").GetLevel())
}

func TestNewQueueBackends(t *testing.T) {
	cfg := &config.Config{}

	cfg.Queue.Backend = "inline"
	q, err := newQueue(cfg, nil, testutil.NewLogger())
	require.NoError(t, err)
	assert.IsType(t, &queue.InlineQueue{}, q)
	require.NoError(t, q.Close())

	cfg.Queue.Backend = "carrier-pigeon"
	_, err = newQueue(cfg, nil, testutil.NewLogger())
	assert.Error(t, err)
}
