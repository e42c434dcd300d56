package models

import "time"

// QRCustomization holds rendering options stored alongside a QR code.
type QRCustomization struct {
	ForegroundColor string `json:"foregroundColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Size            int    `json:"size,omitempty"`
	ErrorCorrection string `json:"errorCorrectionLevel,omitempty"`
}

// QRCode is a tracked short link with its generated QR image.
type QRCode struct {
	ID            string           `json:"_id,omitempty"`
	ShortID       string           `json:"shortId,omitempty"`
	OriginalURL   string           `json:"originalUrl"`
	TrackingURL   string           `json:"trackingUrl,omitempty"`
	QRCodeImage   string           `json:"qrCode,omitempty"`
	CreatedBy     string           `json:"createdBy,omitempty"`
	Customization *QRCustomization `json:"customization,omitempty"`
	Logo          string           `json:"logo,omitempty"`
	Scans         int64            `json:"scans"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// QRList is one page of QR codes.
type QRList struct {
	QRCodes    []QRCode `json:"qrCodes"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	TotalPages int      `json:"totalPages"`
}

// QRStats summarizes scan activity for a QR code.
type QRStats struct {
	ID          string           `json:"_id,omitempty"`
	ShortID     string           `json:"shortId,omitempty"`
	TotalScans  int64            `json:"totalScans"`
	LastScanned *time.Time       `json:"lastScanned,omitempty"`
	ScansByDay  map[string]int64 `json:"scansByDay,omitempty"`
}

// APIHealth is the body of the remote API's health endpoint.
type APIHealth struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
}
