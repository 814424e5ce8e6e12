package pool

import (
	"fmt"
	"sync"
	"testing"
)

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { Configure(PoolConfig{Enabled: true}) })

	t.Run("disable pooling", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false})
		if IsEnabled() {
			t.Error("expected pooling to be disabled")
		}

		sb := GetStringBuilder()
		sb.WriteString("x")
		PutStringBuilder(sb)
		if sb.Len() != 1 {
			t.Error("disabled pool must not reset builders on put")
		}
	})

	t.Run("zero max builder bytes uses default", func(t *testing.T) {
		Configure(PoolConfig{Enabled: true})
		if got := current().MaxBuilderBytes; got != 64*1024 {
			t.Errorf("MaxBuilderBytes = %d, want 65536", got)
		}
	})
}

func TestStringBuilderPool(t *testing.T) {
	sb := GetStringBuilder()
	if sb.Len() != 0 {
		t.Fatalf("new builder should be empty, got %d bytes", sb.Len())
	}

	sb.WriteString("r1")
	_ = sb.WriteByte(' ')
	sb.Printf("-> %s", "r2")
	fmt.Fprintf(sb, " (%d)", 2)

	if got, want := sb.String(), "r1 -> r2 (2)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	PutStringBuilder(sb)

	again := GetStringBuilder()
	if again.Len() != 0 {
		t.Errorf("builder from pool should be reset, got %q", again.String())
	}
	PutStringBuilder(again)
}

func TestStringSlicePool(t *testing.T) {
	s := GetStringSlice()
	*s = append(*s, "a", "b")
	if len(*s) != 2 {
		t.Fatalf("len = %d, want 2", len(*s))
	}
	PutStringSlice(s)

	s2 := GetStringSlice()
	if len(*s2) != 0 {
		t.Errorf("slice from pool should be empty, got %v", *s2)
	}
	PutStringSlice(s2)
	PutStringSlice(nil)
}

func TestConcurrentPoolAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sb := GetStringBuilder()
			sb.Printf("worker-%d", n)
			if sb.String() != fmt.Sprintf("worker-%d", n) {
				t.Errorf("builder shared between goroutines: %q", sb.String())
			}
			PutStringBuilder(sb)
		}(i)
	}
	wg.Wait()
}
