package api

import (
    "fmt"
    "time"

    "tripnav/internal/model"
)

func validateTrip(t *model.Trip) error {
    if err := validatePoint(t.Origin); err != nil {
        return fmt.Errorf("origin: %w", err)
    }
    if t.Date != "" {
        if _, err := time.Parse("2006-01-02", t.Date); err != nil {
            return fmt.Errorf("date must be YYYY-MM-DD")
        }
    }
    if t.ReturnDate != "" {
        if _, err := time.Parse("2006-01-02", t.ReturnDate); err != nil {
            return fmt.Errorf("returnDate must be YYYY-MM-DD")
        }
    }
    for i := range t.Stops {
        if err := validateStop(&t.Stops[i]); err != nil {
            return fmt.Errorf("stops[%d]: %w", i, err)
        }
    }
    return nil
}

func validateStop(s *model.Stop) error {
    if s.Address == "" && s.Location == nil {
        return fmt.Errorf("address or location required")
    }
    if s.Location != nil {
        if err := validatePoint(*s.Location); err != nil {
            return err
        }
    }
    if s.WorkHours < 0 {
        return fmt.Errorf("workHours must be >= 0")
    }
    return nil
}

func validatePoint(p model.GeoPoint) error {
    if p.Lat < -90 || p.Lat > 90 {
        return fmt.Errorf("lat out of range")
    }
    if p.Lng < -180 || p.Lng > 180 {
        return fmt.Errorf("lng out of range")
    }
    return nil
}
