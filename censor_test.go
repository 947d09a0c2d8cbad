package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCensor(t *testing.T) {
	c := NewCensor([]string{"heck", " darn ", "", "heckin"})

	assert.Equal(t, "what the ****", c.Apply("what the heck"))
	assert.Equal(t, "****!", c.Apply("DARN!"))
	assert.Equal(t, "clean text", c.Apply("clean text"))
}

func TestCensor_LongestWordWins(t *testing.T) {
	c := NewCensor([]string{"heck", "heckin"})
	assert.Equal(t, "******' good", c.Apply("heckin' good"))
}

func TestCensor_MasksPerRune(t *testing.T) {
	c := NewCensor([]string{"плохо"})
	assert.Equal(t, "это *****", c.Apply("это ПЛОХО"))
}

func TestCensor_NilPassesThrough(t *testing.T) {
	c := NewCensor([]string{" ", ""})
	assert.Nil(t, c)
	assert.Equal(t, "anything", c.Apply("anything"))
}
