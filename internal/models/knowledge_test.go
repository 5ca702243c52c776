package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatforge/knowledge/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]models.SourceStatus{
		{models.StatusPending, models.StatusProcessing},
		{models.StatusProcessing, models.StatusReady},
		{models.StatusProcessing, models.StatusFailed},
		{models.StatusFailed, models.StatusProcessing},
		{models.StatusReady, models.StatusProcessing},
	}
	for _, pair := range allowed {
		assert.True(t, models.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]models.SourceStatus{
		{models.StatusPending, models.StatusReady},
		{models.StatusPending, models.StatusFailed},
		{models.StatusProcessing, models.StatusProcessing},
		{models.StatusReady, models.StatusFailed},
		{models.StatusFailed, models.StatusReady},
	}
	for _, pair := range denied {
		assert.False(t, models.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}
