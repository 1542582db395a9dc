package decoder

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/WendelHime/lanshare/internal/shared/models"
)

var ErrInvalidAnnouncement = errors.New("invalid announcement")

func EncodeAnnouncement(a models.Announcement) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAnnouncement parses a discovery datagram. Unknown fields are
// ignored and numeric strings are accepted for the port so that peers
// running other versions still register.
func DecodeAnnouncement(data []byte) (models.Announcement, error) {
	var (
		raw map[string]any
		a   models.Announcement
	)
	if err := json.Unmarshal(data, &raw); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAnnouncement, err)
	}
	if _, ok := raw["port"]; !ok {
		return a, fmt.Errorf("%w: missing port", ErrInvalidAnnouncement)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &a,
	})
	if err != nil {
		return a, err
	}
	if err := dec.Decode(raw); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAnnouncement, err)
	}

	if a.Port < 1 || a.Port > 65535 {
		return a, fmt.Errorf("%w: port %d out of range", ErrInvalidAnnouncement, a.Port)
	}
	return a, nil
}
