package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

// parseID はパスパラメーターの数値IDを検証します
func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("Invalid %s", name)
	}
	return id, nil
}

type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (r credentialsRequest) validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("Email is required")
	}
	if r.Password == "" {
		return fmt.Errorf("Password is required")
	}
	return nil
}

type createRoomRequest struct {
	Name string `json:"name"`
}
