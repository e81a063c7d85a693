package main

import (
	"fmt"
	"time"
)

// spin never blocks, so without instrumentation only the OS could stop it.
func spin(deadline time.Time) (n int) {
	for time.Now().Before(deadline) {
		n++
	}
	return n
}

func main() {
	n := spin(time.Now().Add(time.Second))
	fmt.Println("iterations:", n)
	for {
	}
}
