package ticketing

import (
	"fmt"
	"io"

	"busticket/internal/domain/ticket"
	"busticket/internal/domain/trip"

	"github.com/phpdave11/gofpdf"
)

// RenderPDF writes a one-page e-ticket for t.
func RenderPDF(w io.Writer, t *ticket.Ticket, tr *trip.Trip) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+t.Code, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Courier", "B", 16)
	pdf.Cell(0, 10, t.Code)
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Passenger   : %s", t.PassengerName),
		fmt.Sprintf("Seat        : %d", t.SeatNumber),
		fmt.Sprintf("Route       : %s - %s", tr.Origin, tr.Destination),
		fmt.Sprintf("Departure   : %s", tr.DepartureAt.Format("2006-01-02 15:04 MST")),
		fmt.Sprintf("Arrival     : %s", tr.ArrivalAt.Format("2006-01-02 15:04 MST")),
		fmt.Sprintf("Bus         : %s", tr.BusID),
		fmt.Sprintf("Booking     : %s", t.BookingID),
		fmt.Sprintf("Status      : %s", t.Status),
	}
	for _, s := range lines {
		pdf.Cell(0, 7, s)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Valid for one passenger on the seat shown. Present this code when boarding.", "", "", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render ticket pdf: %w", err)
	}
	return nil
}
