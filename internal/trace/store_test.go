package trace

import (
	"context"
	"os"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("AGENTFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AGENTFLOW_TEST_DATABASE_URL not set")
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	a := NewAccumulator()
	a.Start("net1", "hello")
	a.Append("B", KindResponse, "Agent Response", map[string]any{"response": "hi"}, "")
	tr, _ := a.Finalize("hi")

	sessionID := "session_test_" + tr.ID
	if err = store.CreateSession(ctx, sessionID, "net1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err = store.SaveTrace(ctx, sessionID, tr); err != nil {
		t.Fatalf("save trace: %v", err)
	}

	list, err := store.ListTraces(ctx, sessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Reply != "hi" || list[0].StepCount != 3 {
		t.Fatalf("unexpected summaries: %+v", list)
	}

	got, err := store.GetTrace(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 3 || len(got.Edges) != 2 || got.Steps[2].Kind != KindFinish {
		t.Fatalf("unexpected stored trace: %+v", got)
	}
}
