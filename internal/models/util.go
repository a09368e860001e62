package models

import "strings"

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RoomFor builds the location room key for a city and state pair.
func RoomFor(city, state string) string {
	return Location{City: city, State: state}.Room()
}
