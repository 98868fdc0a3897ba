package tickets

import (
	"archive/zip"
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
)

// TicketDetails is everything printed on a single ticket.
type TicketDetails struct {
	EventDate  string
	EventPlace string
	Price      string
	BuyerName  string
	TicketNo   string
	IssuedAt   time.Time
}

// Bundle is the rendered output for one purchase: a single PDF for one
// ticket, a ZIP of PDFs for more.
type Bundle struct {
	FileName    string
	ContentType string
	Data        []byte
	TicketNos   []string
}

// Renderer draws raffle tickets. The QR generator is optional; with a
// nil generator tickets render without a QR code.
type Renderer struct {
	EventDate  string
	EventPlace string
	Price      string
	QR         *QRGenerator

	// rngMu guards rng; Render is called from concurrent requests and
	// math/rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewRenderer(eventDate, eventPlace, price string, qr *QRGenerator) *Renderer {
	return &Renderer{
		EventDate:  eventDate,
		EventPlace: eventPlace,
		Price:      price,
		QR:         qr,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// newTicketNo issues a ticket number in the GWS-NNNNNN format.
func (r *Renderer) newTicketNo() string {
	r.rngMu.Lock()
	n := r.rng.Intn(900000)
	r.rngMu.Unlock()
	return fmt.Sprintf("GWS-%06d", 100000+n)
}

// Render produces the ticket bundle for a buyer. quantity must already
// be validated by the caller.
func (r *Renderer) Render(buyerName string, quantity int) (*Bundle, error) {
	issued := time.Now().UTC()

	seen := make(map[string]bool, quantity)
	ticketNos := make([]string, 0, quantity)
	for len(ticketNos) < quantity {
		no := r.newTicketNo()
		if seen[no] {
			continue
		}
		seen[no] = true
		ticketNos = append(ticketNos, no)
	}

	if quantity == 1 {
		pdfBytes, err := r.renderOne(TicketDetails{
			EventDate:  r.EventDate,
			EventPlace: r.EventPlace,
			Price:      r.Price,
			BuyerName:  buyerName,
			TicketNo:   ticketNos[0],
			IssuedAt:   issued,
		})
		if err != nil {
			return nil, err
		}
		return &Bundle{
			FileName:    fmt.Sprintf("RaffleTicket_%s.pdf", ticketNos[0]),
			ContentType: "application/pdf",
			Data:        pdfBytes,
			TicketNos:   ticketNos,
		}, nil
	}

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	for _, no := range ticketNos {
		pdfBytes, err := r.renderOne(TicketDetails{
			EventDate:  r.EventDate,
			EventPlace: r.EventPlace,
			Price:      r.Price,
			BuyerName:  buyerName,
			TicketNo:   no,
			IssuedAt:   issued,
		})
		if err != nil {
			return nil, err
		}
		entry, err := zw.Create(fmt.Sprintf("RaffleTicket_%s.pdf", no))
		if err != nil {
			return nil, err
		}
		if _, err := entry.Write(pdfBytes); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	safeName := strings.ReplaceAll(buyerName, " ", "_")
	return &Bundle{
		FileName:    fmt.Sprintf("RaffleTickets_%s.zip", safeName),
		ContentType: "application/zip",
		Data:        zipBuf.Bytes(),
		TicketNos:   ticketNos,
	}, nil
}

func (r *Renderer) renderOne(details TicketDetails) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A5", "")
	pdf.SetMargins(12, 12, 12)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 14, "GOODWILL RAFFLE", "", 1, "C", false, 0, "")

	pdf.SetDrawColor(60, 60, 60)
	pdf.Line(12, 30, 198, 30)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 12)
	r.row(pdf, "Event Date", details.EventDate)
	r.row(pdf, "Place", details.EventPlace)
	r.row(pdf, "Price", details.Price)
	r.row(pdf, "Name", details.BuyerName)

	pdf.Ln(4)
	pdf.SetFont("Courier", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Ticket No: %s", details.TicketNo), "", 1, "L", false, 0, "")

	if r.QR != nil {
		qrPNG, err := r.QR.EncryptedTicketQR(details)
		if err != nil {
			return nil, err
		}
		opts := fpdf.ImageOptions{ImageType: "png"}
		pdf.RegisterImageOptionsReader("ticket-qr-"+details.TicketNo, opts, bytes.NewReader(qrPNG))
		pdf.ImageOptions("ticket-qr-"+details.TicketNo, 160, 56, 34, 34, false, opts, 0, "")
	}

	pdf.SetY(-20)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued %s", details.IssuedAt.Format("2006-01-02 15:04 UTC")), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) row(pdf *fpdf.Fpdf, label, value string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(35, 8, label+":", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
}
