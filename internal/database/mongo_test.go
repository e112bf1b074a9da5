package database

import (
	"testing"

	"invitegate/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMongoClient(t *testing.T) {
	conf := &config.Config{}
	assert.Nil(t, NewMongoClient(conf))

	conf.Mongo = config.Mongo{Enabled: true, Host: "db", Port: "27017", User: "u", Password: "p", Database: "links"}
	m := NewMongoClient(conf)
	require.NotNil(t, m)
	assert.Equal(t, "links", m.database)
	require.NotNil(t, m.clientOptions.Auth)
	assert.Equal(t, "links", m.clientOptions.Auth.AuthSource)
	assert.Equal(t, []string{"db:27017"}, m.clientOptions.Hosts)
}
