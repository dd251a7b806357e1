// Package trust holds the trusted sender and domain sets. Comparisons are
// case-insensitive and both sets have set semantics.
package trust

import (
	"sort"
	"strings"
)

// Lists is a snapshot of the trusted senders and domains
type Lists struct {
	Senders []string `json:"trustedSenders"`
	Domains []string `json:"trustedDomains"`
}

// Set is a mutable trust store. The zero value is not usable; use New.
type Set struct {
	senders map[string]struct{}
	domains map[string]struct{}
}

// New builds a set from the given lists, normalizing every entry
func New(l Lists) *Set {
	s := &Set{
		senders: make(map[string]struct{}),
		domains: make(map[string]struct{}),
	}
	for _, v := range l.Senders {
		s.AddSender(v)
	}
	for _, v := range l.Domains {
		s.AddDomain(v)
	}
	return s
}

// NormalizeSender lower-cases and trims an address
func NormalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}

// NormalizeDomain lower-cases a domain and strips a leading "@"
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(d, "@")
}

// DomainOf returns the domain part of an address, or "" when there is none
func DomainOf(sender string) string {
	s := NormalizeSender(sender)
	i := strings.LastIndex(s, "@")
	if i < 0 || i == len(s)-1 {
		return ""
	}
	return s[i+1:]
}

// AddSender adds an address. It reports false when it was already present or empty.
func (s *Set) AddSender(sender string) bool {
	v := NormalizeSender(sender)
	if v == "" {
		return false
	}
	if _, ok := s.senders[v]; ok {
		return false
	}
	s.senders[v] = struct{}{}
	return true
}

// RemoveSender removes an address. It reports whether it was present.
func (s *Set) RemoveSender(sender string) bool {
	v := NormalizeSender(sender)
	if _, ok := s.senders[v]; !ok {
		return false
	}
	delete(s.senders, v)
	return true
}

// AddDomain adds a domain. It reports false when it was already present or empty.
func (s *Set) AddDomain(domain string) bool {
	v := NormalizeDomain(domain)
	if v == "" {
		return false
	}
	if _, ok := s.domains[v]; ok {
		return false
	}
	s.domains[v] = struct{}{}
	return true
}

// RemoveDomain removes a domain. It reports whether it was present.
func (s *Set) RemoveDomain(domain string) bool {
	v := NormalizeDomain(domain)
	if _, ok := s.domains[v]; !ok {
		return false
	}
	delete(s.domains, v)
	return true
}

// Trusts reports whether sender is trusted, either as an exact address or
// because its domain equals, or is a subdomain of, a trusted domain.
func (s *Set) Trusts(sender string) bool {
	v := NormalizeSender(sender)
	if v == "" {
		return false
	}
	if _, ok := s.senders[v]; ok {
		return true
	}
	domain := DomainOf(v)
	if domain == "" {
		return false
	}
	for d := range s.domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// Lists returns a sorted snapshot of the set
func (s *Set) Lists() Lists {
	l := Lists{
		Senders: make([]string, 0, len(s.senders)),
		Domains: make([]string, 0, len(s.domains)),
	}
	for v := range s.senders {
		l.Senders = append(l.Senders, v)
	}
	for v := range s.domains {
		l.Domains = append(l.Domains, v)
	}
	sort.Strings(l.Senders)
	sort.Strings(l.Domains)
	return l
}
