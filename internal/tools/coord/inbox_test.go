package coord

import (
	"testing"
	"time"
)

func sendTestMail(t *testing.T, env *testEnv, from, to, priority, subject string) mailViewJSON {
	t.Helper()
	args := map[string]any{
		"from": from, "to": to, "type": "notification", "subject": subject, "body": subject,
	}
	if priority != "" {
		args["priority"] = priority
	}
	result, err := callTool(t, env.server, "send_mail", args)
	if err != nil {
		t.Fatalf("send_mail: %v", err)
	}
	var msg mailViewJSON
	resultJSON(t, result, &msg)
	return msg
}

func TestCheckMailbox_PriorityOrder(t *testing.T) {
	env := testServer(t)
	coord := spawnSession(t, env, "proj", "", "coordinate")
	worker := spawnSession(t, env, "proj", coord, "execute")

	normal := sendTestMail(t, env, coord, worker, "", "n")
	critical := sendTestMail(t, env, coord, worker, "critical", "c")
	low := sendTestMail(t, env, coord, worker, "low", "l")

	result, err := callTool(t, env.server, "check_mailbox", map[string]any{"session_id": worker})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inbox []mailViewJSON
	resultJSON(t, result, &inbox)
	if len(inbox) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(inbox))
	}
	for i, want := range []string{critical.ID, normal.ID, low.ID} {
		if inbox[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, inbox[i].ID)
		}
	}
}

func TestCheckMailbox_SinceAndLimit(t *testing.T) {
	env := testServer(t)
	coord := spawnSession(t, env, "proj", "", "coordinate")
	worker := spawnSession(t, env, "proj", coord, "execute")

	old := sendTestMail(t, env, coord, worker, "", "old")
	time.Sleep(2 * time.Millisecond)
	sendTestMail(t, env, coord, worker, "", "mid")
	sendTestMail(t, env, coord, worker, "", "new")

	result, err := callTool(t, env.server, "check_mailbox", map[string]any{
		"session_id": worker,
		"since":      old.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatal(err)
	}
	var inbox []mailViewJSON
	resultJSON(t, result, &inbox)
	if len(inbox) != 2 {
		t.Fatalf("since filter broken, got %d messages", len(inbox))
	}

	result, err = callTool(t, env.server, "check_mailbox", map[string]any{
		"session_id": worker,
		"limit":      float64(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	resultJSON(t, result, &inbox)
	if len(inbox) != 1 {
		t.Fatalf("limit broken, got %d messages", len(inbox))
	}
}

func TestCheckMailbox_BadSince(t *testing.T) {
	env := testServer(t)
	worker := spawnSession(t, env, "proj", "", "execute")

	if _, err := callTool(t, env.server, "check_mailbox", map[string]any{
		"session_id": worker, "since": "yesterday",
	}); err == nil {
		t.Error("expected error for malformed since")
	}
}

func TestWaitForMail_WakesOnSend(t *testing.T) {
	env := testServer(t)
	coord := spawnSession(t, env, "proj", "", "coordinate")
	worker := spawnSession(t, env, "proj", coord, "execute")

	type result struct {
		inbox []mailViewJSON
		err   error
	}
	done := make(chan result, 1)
	go func() {
		res, err := callTool(t, env.server, "wait_for_mail", map[string]any{
			"session_id":      worker,
			"timeout_seconds": float64(5),
		})
		if err != nil {
			done <- result{nil, err}
			return
		}
		var inbox []mailViewJSON
		resultJSON(t, res, &inbox)
		done <- result{inbox, nil}
	}()

	time.Sleep(30 * time.Millisecond)
	sent := sendTestMail(t, env, coord, worker, "", "wake up")

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatal(res.err)
		}
		if len(res.inbox) != 1 || res.inbox[0].ID != sent.ID {
			t.Fatalf("expected the sent message, got %v", res.inbox)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait_for_mail did not wake")
	}
}

func TestWaitForMail_TimeoutEmpty(t *testing.T) {
	env := testServer(t)
	worker := spawnSession(t, env, "proj", "", "execute")

	start := time.Now()
	res, err := callTool(t, env.server, "wait_for_mail", map[string]any{
		"session_id":      worker,
		"timeout_seconds": 0.1,
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	var inbox []mailViewJSON
	resultJSON(t, res, &inbox)
	if len(inbox) != 0 {
		t.Fatalf("expected empty inbox on timeout, got %v", inbox)
	}
	// The sub-second request is rounded up to the one second floor.
	if time.Since(start) > 4*time.Second {
		t.Error("wait ran far past its timeout")
	}
}

func TestGetThread_NotFound(t *testing.T) {
	env := testServer(t)
	if _, err := callTool(t, env.server, "get_thread", map[string]any{"thread_id": "m-ghost"}); err == nil {
		t.Error("expected error for unknown thread")
	}
}
