package alert

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/smukkama/safewalk/internal/geo"
)

// Kind identifies which message template a dispatch uses.
type Kind string

const (
	KindEmergency      Kind = "EMERGENCY"
	KindLocationShare  Kind = "LOCATION_SHARE"
	KindSafeCheckIn    Kind = "SAFE_CHECKIN"
	KindMissedCheckIn  Kind = "MISSED_CHECKIN"
	KindRouteDeviation Kind = "ROUTE_DEVIATION"
	KindSafeArrival    Kind = "SAFE_ARRIVAL"
)

const (
	layoutMinutes = "2006-01-02 15:04"
	layoutSeconds = "2006-01-02 15:04:05"
)

// Message is a rendered alert. When Location is set the dispatcher sends a
// map link as a second text right after Body.
type Message struct {
	Kind     Kind
	Body     string
	Location *geo.Point
}

type templateData struct {
	Time      string
	Location  *geo.Point
	MapsLink  string
	Deviation int
}

var templates = map[Kind]*template.Template{
	KindEmergency: template.Must(template.New("emergency").Parse(
		`🚨 EMERGENCY ALERT 🚨
I need immediate help!
{{if .Location}}My Location:
Lat: {{printf "%.6f" .Location.Latitude}}
Long: {{printf "%.6f" .Location.Longitude}}
Maps: {{.MapsLink}}{{else}}Location not available{{end}}

Time: {{.Time}}`)),

	KindLocationShare: template.Must(template.New("location").Parse(
		`My Location:
Lat: {{printf "%.6f" .Location.Latitude}}
Long: {{printf "%.6f" .Location.Longitude}}
Maps: {{.MapsLink}}

Time: {{.Time}}`)),

	KindSafeCheckIn: template.Must(template.New("safe").Parse(
		`✓ I'm Safe Check-in

Your contact has checked in safely at {{.Time}}.`)),

	KindMissedCheckIn: template.Must(template.New("missed").Parse(
		`⚠️ MISSED CHECK-IN ALERT

Your contact has not checked in as scheduled at {{.Time}}. Please verify their safety.`)),

	KindRouteDeviation: template.Must(template.New("deviation").Parse(
		`⚠️ ROUTE DEVIATION ALERT

Your contact has deviated from their planned route.

Current Location:
{{.MapsLink}}

Deviation: {{.Deviation}}m from planned route
Time: {{.Time}}`)),

	KindSafeArrival: template.Must(template.New("arrival").Parse(
		`✓ SAFE ARRIVAL

Your contact has safely reached their destination.

Location:
{{.MapsLink}}
Time: {{.Time}}`)),
}

func render(kind Kind, data templateData) (string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown alert kind: %s", kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", kind, err)
	}
	return buf.String(), nil
}

func withLocation(now time.Time, layout string, loc *geo.Point) templateData {
	data := templateData{Time: now.Local().Format(layout)}
	if loc != nil {
		p := *loc
		data.Location = &p
		data.MapsLink = geo.MapsLink(p)
	}
	return data
}

// EmergencyAlert builds the panic message. A known location is also sent as
// a separate map link.
func EmergencyAlert(now time.Time, loc *geo.Point) (Message, error) {
	body, err := render(KindEmergency, withLocation(now, layoutSeconds, loc))
	if err != nil {
		return Message{}, err
	}
	msg := Message{Kind: KindEmergency, Body: body}
	if loc != nil {
		p := *loc
		msg.Location = &p
	}
	return msg, nil
}

// LocationShare builds the "here is where I am" message.
func LocationShare(now time.Time, loc geo.Point) (Message, error) {
	body, err := render(KindLocationShare, withLocation(now, layoutSeconds, &loc))
	return Message{Kind: KindLocationShare, Body: body}, err
}

func SafeCheckIn(now time.Time) (Message, error) {
	body, err := render(KindSafeCheckIn, withLocation(now, layoutMinutes, nil))
	return Message{Kind: KindSafeCheckIn, Body: body}, err
}

func MissedCheckIn(now time.Time) (Message, error) {
	body, err := render(KindMissedCheckIn, withLocation(now, layoutMinutes, nil))
	return Message{Kind: KindMissedCheckIn, Body: body}, err
}

// RouteDeviation reports the current location and the deviation in whole meters.
func RouteDeviation(now time.Time, loc geo.Point, deviationMeters float64) (Message, error) {
	data := withLocation(now, layoutMinutes, &loc)
	data.Deviation = int(deviationMeters)
	body, err := render(KindRouteDeviation, data)
	return Message{Kind: KindRouteDeviation, Body: body}, err
}

func SafeArrival(now time.Time, loc geo.Point) (Message, error) {
	body, err := render(KindSafeArrival, withLocation(now, layoutMinutes, &loc))
	return Message{Kind: KindSafeArrival, Body: body}, err
}
