package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		log, err := New(env)
		require.NoError(t, err, env)
		assert.NotNil(t, log)
	}
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, GormLevel("test"))
	assert.Equal(t, gormlogger.Warn, GormLevel("production"))
	assert.Equal(t, gormlogger.Info, GormLevel("debug"))
}
