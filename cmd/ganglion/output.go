package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/ganglion/pkg/ganglion"
)

var (
	labelColor = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)

// eventRecord is the JSON-lines form of an event.
type eventRecord struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func newEventRecord(ev ganglion.Event) eventRecord {
	rec := eventRecord{Type: ev.EventName()}
	switch e := ev.(type) {
	case ganglion.SampleEvent:
		rec.Data = e.Sample
	case ganglion.AccelEvent:
		rec.Data = map[string]float64{"x": e.Vector[0], "y": e.Vector[1], "z": e.Vector[2]}
	case ganglion.ImpedanceEvent:
		rec.Data = e.Impedance
	case ganglion.MessageEvent:
		rec.Data = map[string]string{"text": string(e.Data)}
	case ganglion.DroppedPacketEvent:
		rec.Data = map[string]int{"count": e.Count}
	case ganglion.FoundEvent:
		rec.Data = e.Peripheral
	case ganglion.ReadyEvent:
		rec.Data = e.Peripheral
	case ganglion.CloseEvent:
		rec.Data = map[string]any{"manual": e.Manual, "reason": e.Reason}
	case ganglion.ErrorEvent:
		rec.Data = map[string]string{"error": e.Err.Error()}
	}
	return rec
}

// eventPrinter writes events as text lines or JSON lines.
type eventPrinter struct {
	w    io.Writer
	json bool
	enc  *json.Encoder
}

func newEventPrinter(w io.Writer, format string) (*eventPrinter, error) {
	switch format {
	case "text", "":
		return &eventPrinter{w: w}, nil
	case "json":
		return &eventPrinter{w: w, json: true, enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}
}

func (p *eventPrinter) Print(ev ganglion.Event) error {
	if p.json {
		return p.enc.Encode(newEventRecord(ev))
	}
	_, err := fmt.Fprintln(p.w, formatEvent(ev))
	return err
}

func formatEvent(ev ganglion.Event) string {
	switch e := ev.(type) {
	case ganglion.SampleEvent:
		parts := make([]string, len(e.Sample.ChannelData))
		for i, v := range e.Sample.ChannelData {
			parts[i] = strconv.FormatFloat(v, 'g', 9, 64)
		}
		return fmt.Sprintf("%s %3d  %s", labelColor.Sprint("sample"), e.Sample.SampleNumber, strings.Join(parts, "  "))
	case ganglion.AccelEvent:
		return fmt.Sprintf("%s x=%.3f y=%.3f z=%.3f", labelColor.Sprint("accel"), e.Vector[0], e.Vector[1], e.Vector[2])
	case ganglion.ImpedanceEvent:
		return fmt.Sprintf("%s %s: %d", labelColor.Sprint("impedance"), channelLabel(e.Impedance.ChannelNumber), e.Impedance.ImpedanceValue)
	case ganglion.MessageEvent:
		return fmt.Sprintf("%s %s", labelColor.Sprint("message"), strings.TrimRight(string(e.Data), "\x00\r\n"))
	case ganglion.DroppedPacketEvent:
		return warnColor.Sprintf("dropped %d packet(s)", e.Count)
	case ganglion.FoundEvent:
		return fmt.Sprintf("found %s (%s) %d dBm", e.Peripheral.Name(), e.Peripheral.ID, e.Peripheral.RSSI)
	case ganglion.ReadyEvent:
		return fmt.Sprintf("ready %s", e.Peripheral.Name())
	case ganglion.CloseEvent:
		how := "lost"
		if e.Manual {
			how = "manual"
		}
		return warnColor.Sprintf("closed (%s): %s", how, e.Reason)
	case ganglion.ErrorEvent:
		return errorColor.Sprintf("error: %v", e.Err)
	default:
		return ev.EventName()
	}
}

func channelLabel(ch int) string {
	if ch == 0 {
		return "ref"
	}
	return fmt.Sprintf("ch%d", ch)
}

func printPeripheralTable(w io.Writer, peripherals []ganglion.Peripheral) error {
	if len(peripherals) == 0 {
		_, err := fmt.Fprintln(w, "No boards discovered")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	for _, p := range peripherals {
		name := p.Name()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, p.ID, p.RSSI)
	}
	return tw.Flush()
}

func printPeripheralJSON(w io.Writer, peripherals []ganglion.Peripheral) error {
	if peripherals == nil {
		peripherals = []ganglion.Peripheral{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(peripherals)
}

// printImpedanceTable prints the latest reading per channel, reference last.
func printImpedanceTable(w io.Writer, latest map[int]int) error {
	if len(latest) == 0 {
		_, err := fmt.Fprintln(w, "No impedance readings received")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tIMPEDANCE")
	for _, ch := range []int{1, 2, 3, 4, 0} {
		if v, ok := latest[ch]; ok {
			fmt.Fprintf(tw, "%s\t%d\n", channelLabel(ch), v)
		}
	}
	return tw.Flush()
}
