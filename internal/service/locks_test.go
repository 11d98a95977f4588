package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	_, release, err := locks.acquire(ctx, "asset:a", levelAsset)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_, release2, err := locks.acquire(ctx, "asset:a", levelAsset)
		if err != nil {
			t.Errorf("acquire() error = %v", err)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the key was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestKeyedLocks_DifferentKeysDoNotBlock(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	_, releaseA, _ := locks.acquire(ctx, "asset:a", levelAsset)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		_, releaseB, err := locks.acquire(ctx, "asset:b", levelAsset)
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire of an unrelated key blocked")
	}
}

func TestKeyedLocks_Reentrancy(t *testing.T) {
	tests := []struct {
		name    string
		held    []int
		level   int
		wantErr error
	}{
		{name: "asset then proceeds", held: []int{levelAsset}, level: levelProceeds},
		{name: "asset inside asset", held: []int{levelAsset}, level: levelAsset, wantErr: ErrReentrantCall},
		{name: "proceeds inside proceeds", held: []int{levelProceeds}, level: levelProceeds, wantErr: ErrReentrantCall},
		{name: "asset inside proceeds", held: []int{levelProceeds}, level: levelAsset, wantErr: ErrReentrantCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := newKeyedLocks()
			ctx := context.Background()
			for i, level := range tt.held {
				var release func()
				var err error
				ctx, release, err = locks.acquire(ctx, "held:"+string(rune('a'+i)), level)
				if err != nil {
					t.Fatalf("acquire() setup error = %v", err)
				}
				defer release()
			}

			_, release, err := locks.acquire(ctx, "new", tt.level)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("acquire() error = %v, want %v", err, tt.wantErr)
			}
			if release != nil {
				release()
			}
		})
	}
}

func TestKeyedLocks_ContextCancelWhileWaiting(t *testing.T) {
	locks := newKeyedLocks()

	_, release, _ := locks.acquire(context.Background(), "asset:a", levelAsset)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := locks.acquire(ctx, "asset:a", levelAsset)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestKeyedLocks_EntriesAreReclaimed(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := locks.acquire(ctx, "asset:a", levelAsset)
			if err == nil {
				release()
			}
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if n := len(locks.locks); n != 0 {
		t.Errorf("lock entries = %d after all releases, want 0", n)
	}
}
