package models

// Intent is the classified purpose of a user utterance.
type Intent string

const (
	IntentControlVehicle Intent = "CONTROL_VEHICLE"
	IntentChat           Intent = "CHAT"
	IntentNavigation     Intent = "NAVIGATION"
	IntentVehicleStatus  Intent = "VEHICLE_STATUS"
	IntentNews           Intent = "NEWS"
	IntentWeather        Intent = "WEATHER"
	IntentNothing        Intent = "NOTHING"
)

// ParseIntent maps a label string onto a known intent, defaulting to CHAT
// for anything unrecognized so a sloppy classifier never drops a turn.
func ParseIntent(label string) Intent {
	switch Intent(label) {
	case IntentControlVehicle, IntentChat, IntentNavigation,
		IntentVehicleStatus, IntentNews, IntentWeather, IntentNothing:
		return Intent(label)
	default:
		return IntentChat
	}
}
