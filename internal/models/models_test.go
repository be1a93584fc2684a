package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession("5511@s.whatsapp.net", now)
	if s.Status != StatusWaiting || s.IsHuman() {
		t.Errorf("new session should wait for the bot, got %s", s.Status)
	}
	if s.Messages == nil || len(s.Messages) != 0 {
		t.Errorf("expected empty non-nil history, got %#v", s.Messages)
	}
	if !s.LastUpdated.Equal(now) || !s.LastStatusChange.Equal(now) {
		t.Error("timestamps should be set to now")
	}
}

func TestClone_IsDeep(t *testing.T) {
	placed := time.Now()
	s := NewSession("id", time.Now())
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: "oi"})
	s.UserInfo.Order = &Order{Model: "Runner", PlacedAt: &placed}

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.UserInfo.Order.Model = "changed"
	*c.UserInfo.Order.PlacedAt = placed.Add(time.Hour)

	if s.Messages[0].Content != "oi" || s.UserInfo.Order.Model != "Runner" || !s.UserInfo.Order.PlacedAt.Equal(placed) {
		t.Error("mutating a clone leaked into the original")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestRoleAndStatusValidity(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.IsValid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("bot").IsValid() {
		t.Error("unknown role accepted")
	}
	if !StatusWaiting.IsValid() || !StatusHuman.IsValid() || Status("closed").IsValid() {
		t.Error("status validity mismatch")
	}
}

func TestSessionJSONFieldNames(t *testing.T) {
	s := NewSession("id", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.UserInfo.AwaitingImage = true
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "messages", "userInfo", "lastUpdated", "status", "lastStatusChange"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
	var info map[string]interface{}
	if err := json.Unmarshal(raw["userInfo"], &info); err != nil {
		t.Fatal(err)
	}
	if info["awaitingImage"] != true {
		t.Errorf("userInfo = %v", info)
	}
}

func TestNow_TruncatedUTC(t *testing.T) {
	n := Now()
	if n.Location() != time.UTC || n.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Now() = %v", n)
	}
}

func TestAPIResponses(t *testing.T) {
	if r := Success(1); r.Status != APIStatusOK || r.Result != 1 {
		t.Errorf("Success = %+v", r)
	}
	if r := SuccessWithMessage("done", nil); r.Status != APIStatusOK || r.Message != "done" {
		t.Errorf("SuccessWithMessage = %+v", r)
	}
	if r := Error("bad"); r.Status != APIStatusError || r.Message != "bad" {
		t.Errorf("Error = %+v", r)
	}
}
