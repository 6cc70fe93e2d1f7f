/*
Copyright 2025 HZeroxium.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package confighash_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/HZeroxium/central-config-server/pkg/confighash"
)

var _ = Describe("Canonicalize", func() {
	It("is insensitive to key order", func() {
		a, err := confighash.Canonicalize([]byte(`{"b":2,"a":1}`))
		Expect(err).NotTo(HaveOccurred())
		b, err := confighash.Canonicalize([]byte(`{"a":1,"b":2}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("is insensitive to insignificant whitespace", func() {
		a, err := confighash.Canonicalize([]byte("{\n  \"a\": [1, 2],\n  \"b\": {\"c\": true}\n}"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(a)).To(Equal(`{"a":[1,2],"b":{"c":true}}`))
	})

	It("keeps numbers verbatim instead of rounding through float64", func() {
		out, err := confighash.Canonicalize([]byte(`{"n":12345678901234567890,"f":0.1000}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("12345678901234567890"))
		Expect(string(out)).To(ContainSubstring("0.1000"))
	})

	It("sorts nested object keys", func() {
		out, err := confighash.Canonicalize([]byte(`{"outer":{"z":1,"a":2}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(Equal(`{"outer":{"a":2,"z":1}}`))
	})

	It("rejects malformed documents", func() {
		_, err := confighash.Canonicalize([]byte(`{"a":`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("HashDocument", func() {
	It("produces identical digests for equivalent documents", func() {
		h1, err := confighash.HashDocument([]byte(`{"b": 2, "a": 1}`))
		Expect(err).NotTo(HaveOccurred())
		h2, err := confighash.HashDocument([]byte(`{"a":1,"b":2}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(h1).To(Equal(h2))
		Expect(h1).To(HaveLen(64))
	})

	It("produces different digests for different values", func() {
		h1, _ := confighash.HashDocument([]byte(`{"a":1}`))
		h2, _ := confighash.HashDocument([]byte(`{"a":2}`))
		Expect(h1).NotTo(Equal(h2))
	})
})

var _ = Describe("HashString", func() {
	It("is deterministic", func() {
		Expect(confighash.HashString("x")).To(Equal(confighash.HashString("x")))
		Expect(confighash.HashString("x")).NotTo(Equal(confighash.HashString("y")))
	})
})
