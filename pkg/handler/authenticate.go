package handler

import (
	"context"
	"errors"

	"github.com/mahaj/lytecord/pkg/auth"
	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/store"
)

type authRequest struct {
	Subtype   string `json:"subtype"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	NameColor string `json:"name_color"`
	Token     string `json:"token"`
}

func (r *authRequest) valid() bool {
	switch r.Subtype {
	case "token":
		return r.Token != ""
	case "login", "register":
		return r.Username != "" && r.Password != ""
	}
	return r.Subtype != ""
}

func (h *Handler) authenticate(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data authRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	switch data.Subtype {
	case "login":
		return h.login(ctx, c, data)
	case "register":
		return h.registerUser(ctx, c, data)
	case "token":
		return h.resume(ctx, c, data)
	}
	return nil, fail("Invalid credentials")
}

// register is the one-shot form of Authenticate with subtype register.
func (h *Handler) register(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data authRequest
	if err := req.Decode(&data); err != nil {
		return nil, invalidData("%s: %v", req.Type, err)
	}
	data.Subtype = "register"
	if !data.valid() {
		return nil, invalidData("%s: missing fields", req.Type)
	}
	return h.registerUser(ctx, c, data)
}

func (h *Handler) login(ctx context.Context, c server.Conn, data authRequest) (response, error) {
	user, hash, err := h.store.UserByName(ctx, data.Username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("Invalid credentials")
	}
	if err != nil {
		return nil, dbError("user by name", err)
	}

	if !auth.CheckPassword(data.Password, hash) {
		return nil, fail("Invalid credentials")
	}
	return h.signIn(c, user, "Authenticated")
}

func (h *Handler) registerUser(ctx context.Context, c server.Conn, data authRequest) (response, error) {
	if !auth.ValidUsername(data.Username) {
		return nil, fail("Invalid username")
	}

	_, _, err := h.store.UserByName(ctx, data.Username)
	if err == nil {
		return nil, fail("Username already exists")
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, dbError("user by name", err)
	}

	if !auth.ValidPassword(data.Password) {
		return nil, fail("Invalid/weak password")
	}
	if !auth.ValidNameColor(data.NameColor) {
		return nil, fail("Bad name color, try a different one")
	}

	user, err := model.NewUser(h.ids.Next(), data.Username, data.NameColor)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(data.Password)
	if err != nil {
		return nil, err
	}

	if err := h.store.CreateUser(ctx, user, hash); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fail("Username already exists")
		}
		return nil, dbError("create user", err)
	}
	return h.signIn(c, user, "Registered")
}

func (h *Handler) resume(ctx context.Context, c server.Conn, data authRequest) (response, error) {
	id, err := h.tokens.ValidateToken(data.Token)
	if err != nil {
		return nil, fail("Invalid token")
	}

	user, err := h.store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("Invalid token")
	}
	if err != nil {
		return nil, dbError("user", err)
	}
	return h.signIn(c, user, "Authenticated")
}

func (h *Handler) signIn(c server.Conn, user model.User, message string) (response, error) {
	token, err := h.tokens.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}
	c.SetUser(user)
	return success(response{"message": message, "user": user, "token": token}), nil
}
