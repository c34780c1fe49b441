package utils

import (
	"database/sql"
	"reflect"
	"testing"
	"time"
)

func TestToSQLStr(t *testing.T) {
	tests := []struct {
		name string
		args string
		want sql.NullString
	}{
		{name: "empty", args: "", want: sql.NullString{}},
		{name: "non empty", args: "olia", want: sql.NullString{String: "olia", Valid: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToSQLStr(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToSQLStr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromSQLStr(t *testing.T) {
	tests := []struct {
		name string
		args sql.NullString
		want string
	}{
		{name: "empty", args: sql.NullString{}, want: ""},
		{name: "non empty", args: sql.NullString{String: "olia", Valid: true}, want: "olia"},
		{name: "non valid", args: sql.NullString{String: "olia", Valid: false}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromSQLStr(tt.args); got != tt.want {
				t.Errorf("FromSQLStr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromSQLInt32OrZero(t *testing.T) {
	tests := []struct {
		name string
		args sql.NullInt32
		want int32
	}{
		{name: "empty", args: sql.NullInt32{}, want: 0},
		{name: "value", args: sql.NullInt32{Int32: 10, Valid: true}, want: 10},
		{name: "non valid", args: sql.NullInt32{Int32: 10, Valid: false}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromSQLInt32OrZero(tt.args); got != tt.want {
				t.Errorf("FromSQLInt32OrZero() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToSQLTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		args time.Time
		want sql.NullTime
	}{
		{name: "empty", args: time.Time{}, want: sql.NullTime{}},
		{name: "value", args: now, want: sql.NullTime{Time: now, Valid: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToSQLTime(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToSQLTime() = %v, want %v", got, tt.want)
			}
		})
	}
}
