package models

import "time"

type DNSRecord struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type DetectedTechnology struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Category string `json:"category"`
}

type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	NotBefore    time.Time `json:"validFrom"`
	NotAfter     time.Time `json:"validTo"`
	DNSNames     []string  `json:"dnsNames,omitempty"`
}

// ReconAggregate is assembled once per scan. Fields of probes that failed are
// left at their zero value.
type ReconAggregate struct {
	Target       string               `json:"target"`
	Subdomains   []string             `json:"subdomains"`
	OpenPorts    []int                `json:"openPorts"`
	DNSRecords   []DNSRecord          `json:"dnsRecords"`
	Technologies []DetectedTechnology `json:"technologies"`
	Headers      map[string]string    `json:"headers,omitempty"`
	StatusCode   *int                 `json:"statusCode,omitempty"`
	Certificate  *CertificateInfo     `json:"certificate,omitempty"`
	Whois        map[string]string    `json:"whois,omitempty"`
}
