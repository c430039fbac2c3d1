package main

import (
	"reflect"
	"testing"
)

func TestParseTargets(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"store", []string{"store"}, false},
		{"store,bigquery", []string{"store", "bigquery"}, false},
		{" BigQuery , store ", []string{"bigquery", "store"}, false},
		{"store,store", []string{"store"}, false},
		{"", nil, true},
		{" , ", nil, true},
		{"store,redshift", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTargets(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTargets(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseTargets(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
