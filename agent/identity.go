package main

import "math/rand"

var adjectives = []string{
	"Brave", "Calm", "Clever", "Eager", "Gentle", "Happy", "Jolly", "Kind",
	"Lively", "Lucky", "Mighty", "Proud", "Quick", "Quiet", "Swift", "Witty",
}

var animals = []string{
	"Badger", "Beaver", "Falcon", "Ferret", "Fox", "Heron", "Koala", "Lynx",
	"Marten", "Otter", "Owl", "Panda", "Puffin", "Seal", "Tiger", "Wombat",
}

var colors = []string{
	"#e91e63", "#9c27b0", "#3f51b5", "#2196f3", "#009688",
	"#4caf50", "#ff9800", "#ff5722", "#795548", "#607d8b",
}

// randomName picks an "Adjective Animal" display name.
func randomName() string {
	return adjectives[rand.Intn(len(adjectives))] + " " + animals[rand.Intn(len(animals))]
}

func randomColor() string {
	return colors[rand.Intn(len(colors))]
}
