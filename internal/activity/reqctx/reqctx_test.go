package reqctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_CanAny(t *testing.T) {
	u := &User{ID: 3, Roles: []string{"editor"}, Caps: []string{"edit_posts"}}

	assert.True(t, u.CanAny([]string{"manage_options", "edit_posts"}))
	assert.True(t, u.CanAny([]string{"editor"}))
	assert.False(t, u.CanAny([]string{"manage_options"}))

	var anon *User
	assert.False(t, anon.CanAny([]string{"read"}))
	assert.False(t, anon.LoggedIn())
}

func TestRequest_ActorKey(t *testing.T) {
	assert.Equal(t, "user:7", Request{User: &User{ID: 7}, IP: "10.0.0.1"}.ActorKey())
	assert.Equal(t, "ip:10.0.0.1", Request{IP: "10.0.0.1"}.ActorKey())
}

func TestWithFrom(t *testing.T) {
	ctx := With(context.Background(), Request{PageNow: "users.php"})
	assert.Equal(t, "users.php", From(ctx).PageNow)
	assert.Equal(t, Request{}, From(context.Background()))
}
