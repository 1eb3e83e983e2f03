package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow/types"
)

func TestNormalizeChatID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "123-456", want: "123-456@g.us"},
		{in: "5551234567", want: "5551234567@c.us"},
		{in: "+5551234567", want: "5551234567@c.us"},
		{in: "5551234567@c.us", want: "5551234567@c.us"},
		{in: "120363-1@g.us", want: "120363-1@g.us"},
		{in: "5551234567@s.whatsapp.net", want: "5551234567@c.us"},
		{in: " 42 ", want: "42@c.us"},
		{in: "status@broadcast", want: "status@broadcast"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeChatID(tt.in))
		})
	}
}

func TestIsGroup(t *testing.T) {
	assert.True(t, IsGroup("123-456"))
	assert.True(t, IsGroup("999@g.us"))
	assert.False(t, IsGroup("5551234567"))
}

func TestJIDRoundTrip(t *testing.T) {
	assert.Equal(t, types.NewJID("123-456", types.GroupServer), toJID("123-456"))
	assert.Equal(t, types.NewJID("5551234567", types.DefaultUserServer), toJID("5551234567@c.us"))

	assert.Equal(t, "123-456@g.us", fromJID(types.NewJID("123-456", types.GroupServer)))
	assert.Equal(t, "5551234567@c.us", fromJID(types.NewJID("5551234567", types.DefaultUserServer)))
}
