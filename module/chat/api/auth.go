package api

import (
	"errors"
	"strings"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"
	"PPChat/tools/security"
	"PPChat/tools/validate"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const minPasswordLen = 6

type registerReq struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Email           string `json:"email"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResp struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

var (
	errFieldsRequired   = errs.ErrArgs.WithMsg("All fields are required")
	errPasswordMismatch = errs.ErrArgs.WithMsg("Passwords do not match")
	errPasswordShort    = errs.ErrArgs.WithMsg("Password must be at least 6 characters")
	errBadUsername      = errs.ErrArgs.WithMsg("Username must be 3-30 characters and contain only letters, numbers, and underscores")
	errUsernameTaken    = errs.ErrDuplicateKey.WithMsg("Username already exists")
	errEmailTaken       = errs.ErrDuplicateKey.WithMsg("Email already exists")
	errBadCredentials   = errs.ErrUnauthenticated.WithMsg("Invalid username or password")
)

func (a *API) register(c *gin.Context) error {
	req, err := bind[registerReq](c)
	if err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" || req.ConfirmPassword == "" {
		return errFieldsRequired.Wrap()
	}
	if req.Password != req.ConfirmPassword {
		return errPasswordMismatch.Wrap()
	}
	if len(req.Password) < minPasswordLen {
		return errPasswordShort.Wrap()
	}
	if !validate.Username(req.Username) {
		return errBadUsername.Wrap()
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ctx := c.Request.Context()
	if _, err := a.store.FindUserByUsername(ctx, req.Username); err == nil {
		return errUsernameTaken.WrapMsg("register", "username", req.Username)
	} else if !errors.Is(err, errs.ErrRecordNotFound) {
		return storeErr(err, nil, "Registration failed")
	}
	if email != "" {
		if _, err := a.store.FindUserByEmail(ctx, email); err == nil {
			return errEmailTaken.WrapMsg("register", "email", email)
		} else if !errors.Is(err, errs.ErrRecordNotFound) {
			return storeErr(err, nil, "Registration failed")
		}
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return errs.WrapMsg(err, "hash password")
	}
	now := time.Now()
	u := &model.User{
		Username:  model.NormalizeUsername(req.Username),
		Email:     email,
		Password:  hash,
		Avatar:    model.DefaultAvatar(req.Username),
		Status:    model.StatusOffline,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		// 并发注册撞上唯一索引
		if errs.Code(err) == errs.DuplicateKeyError {
			if strings.Contains(err.Error(), "email") {
				return errEmailTaken.WrapMsg(err.Error())
			}
			return errUsernameTaken.WrapMsg(err.Error())
		}
		return storeErr(err, nil, "Registration failed")
	}

	// 自动加入 general，失败不影响注册
	if general, err := a.store.FindChannelByName(ctx, model.ChannelPublic, model.GeneralChannelName); err == nil {
		if err := a.store.AddChannelMember(ctx, general.ID, u.ID); err != nil {
			a.log.Warn("join general", zap.String("user", u.ID), zap.Error(err))
		}
	}

	return a.issue(c, u, "Registration successful")
}

func (a *API) login(c *gin.Context) error {
	req, err := bind[loginReq](c)
	if err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return errFieldsRequired.Wrap()
	}
	u, err := a.store.FindUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errBadCredentials.WrapMsg("login", "username", req.Username)
		}
		return storeErr(err, nil, "Login failed")
	}
	match, err := security.CheckPassword(u.Password, req.Password)
	if err != nil {
		return errs.WrapMsg(err, "check password", "user", u.ID)
	}
	if !match {
		return errBadCredentials.WrapMsg("login", "username", req.Username)
	}
	return a.issue(c, u, "Login successful")
}

func (a *API) issue(c *gin.Context, u *model.User, message string) error {
	token, exp, err := a.gate.Issue(u.ID)
	if err != nil {
		return err
	}
	ok(c, authResp{User: u, Token: token, ExpiresAt: exp}, message)
	return nil
}
