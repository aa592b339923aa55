package cmd

import (
	"log"

	"ticket-verifier/config"
	"ticket-verifier/internal/authority"
	"ticket-verifier/internal/scanner"
	"ticket-verifier/utils"
)

// NewAuthority builds the ticket backend client behind its circuit breaker.
func NewAuthority(cfg *config.Config) (*authority.Client, *utils.CircuitBreaker, error) {
	breaker := utils.NewCircuitBreaker("authority", utils.BreakerSettings{
		MinRequests:  uint32(cfg.BreakerMinRequests),
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerTimeout,
		FailureRatio: cfg.BreakerFailureRatio,
	})

	client, err := authority.NewClient(&authority.ClientConfig{
		BaseURL: cfg.AuthorityBaseURL,
		Timeout: cfg.AuthorityTimeout,
	}, breaker)
	if err != nil {
		return nil, nil, err
	}
	return client, breaker, nil
}

// NewScannerFactory picks the scan source the gate hardware supports. A nil
// factory means the gate only takes manual entry.
func NewScannerFactory(cfg *config.Config) scanner.Factory {
	switch {
	case cfg.CameraSnapshotURL != "":
		log.Printf("Scanning QR codes from camera %s", cfg.CameraSnapshotURL)
		return func() scanner.Source {
			return scanner.NewAdapter(
				scanner.NewSnapshotCamera(cfg.CameraSnapshotURL),
				scanner.NewQRDecoder(),
				scanner.Config{ScanRate: cfg.ScanRate},
			)
		}
	case cfg.ScannerDevice != "":
		log.Printf("Reading codes from scanner device %s", cfg.ScannerDevice)
		return func() scanner.Source {
			return scanner.NewLineSource(scanner.DeviceOpener(cfg.ScannerDevice))
		}
	default:
		log.Println("No camera or scanner configured, manual entry only")
		return nil
	}
}
