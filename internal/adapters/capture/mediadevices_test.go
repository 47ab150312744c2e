package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/dkeye/Mesh/internal/media"
)

// No drivers are registered in the test binary, so every request must fail cleanly.
func TestUserMediaWithoutDevices(t *testing.T) {
	c := New(nil)
	_, err := c.UserMedia(context.Background(), media.Constraints{Video: true, Audio: true})
	if media.ReasonOf(err) != media.ReasonDeviceUnavailable {
		t.Fatalf("UserMedia: got %v", err)
	}
}

func TestUserMediaHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).UserMedia(ctx, media.Constraints{Audio: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("UserMedia: got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want media.Reason
	}{
		{fmt.Errorf("open: %w", os.ErrPermission), media.ReasonPermissionDenied},
		{fmt.Errorf("codec: %w", errors.ErrUnsupported), media.ReasonNotSupported},
		{errors.New("failed to find the best driver that fits the constraints"), media.ReasonDeviceUnavailable},
	}
	for _, tc := range cases {
		if got := media.ReasonOf(classify(tc.err)); got != tc.want {
			t.Fatalf("classify(%v): got %s want %s", tc.err, got, tc.want)
		}
	}
}
