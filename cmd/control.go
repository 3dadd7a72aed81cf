package cmd

import (
	"fmt"
	"strconv"
)

// RunToggle flips a subject's access and reports the new state.
func RunToggle(remote, apiKey, subject string) error {
	c := newClient(remote, apiKey)

	res, err := c.Toggle(subject)
	if err != nil {
		return err
	}

	state := "blocked"
	if res.Allowed {
		state = "allowed"
	}
	fmt.Printf("%s is now %s\n", res.Subject, state)
	return nil
}

// RunTimer starts a timed allow for the subject.
func RunTimer(remote, apiKey, subject, minutesArg string) error {
	minutes, err := strconv.Atoi(minutesArg)
	if err != nil || minutes <= 0 {
		return fmt.Errorf("minutes must be a positive number, got %q", minutesArg)
	}

	c := newClient(remote, apiKey)
	res, err := c.StartTimer(subject, minutes)
	if err != nil {
		return err
	}

	fmt.Printf("%s allowed for %d minutes (until %s)\n",
		res.Subject, res.Minutes, res.Until.Local().Format("15:04"))
	return nil
}

// RunCancelTimer stops a subject's running timed allow.
func RunCancelTimer(remote, apiKey, subject string) error {
	c := newClient(remote, apiKey)
	if err := c.CancelTimer(subject); err != nil {
		return err
	}
	fmt.Printf("Timer for %s cancelled\n", subject)
	return nil
}

// RunSkip starts or cancels a schedule skip for the subject.
func RunSkip(remote, apiKey, subject string, cancel bool) error {
	c := newClient(remote, apiKey)

	if cancel {
		if err := c.CancelSkip(subject); err != nil {
			return err
		}
		fmt.Printf("Skip for %s cancelled\n", subject)
		return nil
	}

	res, err := c.StartSkip(subject)
	if err != nil {
		return err
	}
	fmt.Printf("%s schedule skipped until %s\n",
		res.Subject, res.Until.Local().Format("Mon 15:04"))
	return nil
}

// RunReconcile asks the daemon for an immediate reconcile pass.
func RunReconcile(remote, apiKey string) error {
	c := newClient(remote, apiKey)
	if err := c.Reconcile(); err != nil {
		return err
	}
	fmt.Println("Reconcile triggered")
	return nil
}

// RunAll force-allows or force-blocks every subject.
func RunAll(remote, apiKey string, allow bool) error {
	c := newClient(remote, apiKey)

	if allow {
		if err := c.AllowAll(); err != nil {
			return err
		}
		fmt.Println("All subjects allowed")
		return nil
	}

	if err := c.BlockAll(); err != nil {
		return err
	}
	fmt.Println("All subjects blocked")
	return nil
}
